package models

// FeatureVector is the ordered feature output handed to the inference
// collaborator. Column order is fixed by the registered feature set; the
// contract hash lets the consumer detect silent reordering. Columns whose
// features lack history are simply absent.
type FeatureVector struct {
	Symbol       string    `json:"symbol"`
	Timestamp    int64     `json:"t"`
	Columns      []string  `json:"columns"`
	Values       []float32 `json:"values"`
	ContractHash uint64    `json:"contract_hash"`
}

// Get returns the value for a column name.
func (v *FeatureVector) Get(name string) (float32, bool) {
	for i, c := range v.Columns {
		if c == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// Len returns the number of populated columns.
func (v *FeatureVector) Len() int { return len(v.Columns) }
