package updates

import (
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// OrderedMap is a string to string map that keeps insertion order when
// encoded to and decoded from JSON objects. A nil *OrderedMap reads as empty.
type OrderedMap struct {
	om *orderedmap.OrderedMap[string, string]
}

func NewOrderedMap() *OrderedMap {
	return &OrderedMap{om: orderedmap.New[string, string]()}
}

func (m *OrderedMap) init() {
	if m.om == nil {
		m.om = orderedmap.New[string, string]()
	}
}

// Set stores the value for key. Existing keys keep their position.
func (m *OrderedMap) Set(key, value string) {
	m.init()
	m.om.Set(key, value)
}

func (m *OrderedMap) Get(key string) (string, bool) {
	if m == nil || m.om == nil {
		return "", false
	}
	return m.om.Get(key)
}

func (m *OrderedMap) Delete(key string) {
	if m == nil || m.om == nil {
		return
	}
	m.om.Delete(key)
}

func (m *OrderedMap) Keys() []string {
	if m == nil || m.om == nil {
		return nil
	}
	keys := make([]string, 0, m.om.Len())
	for pair := m.om.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (m *OrderedMap) Len() int {
	if m == nil || m.om == nil {
		return 0
	}
	return m.om.Len()
}

func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	if m == nil || m.om == nil {
		return []byte("{}"), nil
	}
	return m.om.MarshalJSON()
}

func (m *OrderedMap) UnmarshalJSON(data []byte) error {
	m.om = orderedmap.New[string, string]()
	return m.om.UnmarshalJSON(data)
}
