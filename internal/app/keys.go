package app

import "github.com/medfatnasii277/portalbell/internal/keys"

// KeyMap is re-exported from the keys package so callers that build the
// app do not need a second import.
type KeyMap = keys.KeyMap

// DefaultKeyMap delegates to keys.DefaultKeyMap.
func DefaultKeyMap() *KeyMap {
	return keys.DefaultKeyMap()
}
