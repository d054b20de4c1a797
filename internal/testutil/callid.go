package testutil

// FixedCallIDGenerator returns the same call id every time, so logs and
// failure reports of federated calls are reproducible in tests.
//
// Thread-safety: FixedCallIDGenerator is stateless and safe for concurrent use.
type FixedCallIDGenerator struct {
	id string
}

// NewFixedCallIDGenerator returns a generator for id. An empty id
// becomes "test-call-default".
func NewFixedCallIDGenerator(id string) *FixedCallIDGenerator {
	if id == "" {
		id = "test-call-default"
	}
	return &FixedCallIDGenerator{id: id}
}

// Generate returns the fixed call id.
func (g *FixedCallIDGenerator) Generate() string {
	return g.id
}
