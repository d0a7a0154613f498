package keychain

import "fmt"

// Attribute keys and values, using the platform's raw strings so a Query
// can be handed to the Security framework unchanged.
const (
	AttrClass         = "class"
	AttrService       = "svce"
	AttrAccount       = "acct"
	AttrAccessGroup   = "agrp"
	AttrLabel         = "labl"
	AttrAccessible    = "pdmn"
	AttrAccessControl = "accc"
	AttrCreated       = "cdat"
	AttrModified      = "mdat"

	ValueData        = "v_Data"
	ReturnData       = "r_Data"
	ReturnAttributes = "r_Attributes"
	MatchLimit       = "m_Limit"

	ClassGenericPassword = "genp"
	MatchLimitOne        = "m_LimitOne"
	MatchLimitAll        = "m_LimitAll"
)

// Query is an attribute dictionary passed to a Backend.
type Query map[string]any

func (q Query) string(key string) (string, bool) {
	s, ok := q[key].(string)
	return s, ok
}

func (q Query) bool(key string) bool {
	b, _ := q[key].(bool)
	return b
}

// Attributes is a read-only view over the attributes returned for one item.
type Attributes struct {
	storage map[string]any
}

// NewAttributes wraps an attribute map. The map is not copied.
func NewAttributes(m map[string]any) Attributes {
	return Attributes{storage: m}
}

// Get returns the raw attribute value for key.
func (a Attributes) Get(key string) (any, bool) {
	v, ok := a.storage[key]
	return v, ok
}

func (a Attributes) str(key string) string {
	s, _ := a.storage[key].(string)
	return s
}

func (a Attributes) Account() string     { return a.str(AttrAccount) }
func (a Attributes) Service() string     { return a.str(AttrService) }
func (a Attributes) AccessGroup() string { return a.str(AttrAccessGroup) }
func (a Attributes) Label() string       { return a.str(AttrLabel) }
func (a Attributes) Len() int            { return len(a.storage) }
func (a Attributes) IsEmpty() bool       { return len(a.storage) == 0 }

// Map returns a copy of the underlying attributes.
func (a Attributes) Map() map[string]any {
	m := make(map[string]any, len(a.storage))
	for k, v := range a.storage {
		m[k] = v
	}
	return m
}

func (k *Keychain) baseQuery(key string, data []byte) Query {
	q := Query{
		AttrClass:   ClassGenericPassword,
		AttrService: k.service,
	}
	if k.accessGroup != "" {
		q[AttrAccessGroup] = k.accessGroup
	}
	if key != "" {
		q[AttrAccount] = key
	}
	if data != nil {
		q[ValueData] = data
	}
	return q
}

func (k *Keychain) getAllQuery() Query {
	q := k.baseQuery("", nil)
	q[ReturnAttributes] = true
	q[MatchLimit] = MatchLimitAll
	return q
}

func (k *Keychain) getOneQuery(key string) Query {
	q := k.baseQuery(key, nil)
	q[ReturnData] = true
	q[MatchLimit] = MatchLimitOne
	return q
}

func (k *Keychain) attributesQuery(key string) Query {
	q := k.baseQuery(key, nil)
	q[ReturnAttributes] = true
	q[MatchLimit] = MatchLimitOne
	return q
}

// setQuery carries either an access control object or a plain
// accessibility attribute, never both.
func (k *Keychain) setQuery(key string, data []byte) Query {
	q := k.baseQuery(key, data)
	q[AttrLabel] = fmt.Sprintf("%s: %s", k.service, key)
	if k.accessControl != 0 {
		q[AttrAccessControl] = AccessControl{Accessibility: k.accessibility, Flags: k.accessControl}
	} else {
		q[AttrAccessible] = k.accessibility.Raw()
	}
	return q
}

func updateAttributes(data []byte) Query {
	return Query{ValueData: data}
}

func (k *Keychain) deleteAllQuery() Query {
	q := k.baseQuery("", nil)
	q[MatchLimit] = MatchLimitAll
	return q
}
