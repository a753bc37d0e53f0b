package models

import (
	"fmt"
	"strings"
)

// Store identifies a supported retailer.
type Store string

const (
	StoreZara   Store = "zara"
	StoreHM     Store = "hm"
	StoreUniqlo Store = "uniqlo"
)

var storeNames = map[Store]string{
	StoreZara:   "Zara",
	StoreHM:     "H&M",
	StoreUniqlo: "Uniqlo",
}

// ParseStore maps user input such as "Zara" or " h&m " onto a Store.
func ParseStore(s string) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	key = strings.ReplaceAll(key, "&", "")
	store := Store(key)
	if !store.Valid() {
		return "", fmt.Errorf("unsupported store %q", s)
	}
	return store, nil
}

func (s Store) Valid() bool {
	_, ok := storeNames[s]
	return ok
}

// DisplayName is the human readable retailer name.
func (s Store) DisplayName() string {
	if name, ok := storeNames[s]; ok {
		return name
	}
	return string(s)
}

func (s Store) String() string {
	return string(s)
}
