package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeIsOrderIndependent(t *testing.T) {
	a := Input{
		ImageRef: "app:1",
		Env:      map[string]string{"A": "1", "B": "2"},
		Ports:    []Port{{ContainerPort: 80, Protocol: "tcp"}, {ContainerPort: 443, Protocol: "tcp"}},
		Labels:   map[string]string{"team": "infra"},
	}
	b := Input{
		ImageRef: "app:1",
		Env:      map[string]string{"B": "2", "A": "1"},
		Ports:    []Port{{ContainerPort: 443, Protocol: "tcp"}, {ContainerPort: 80, Protocol: "tcp"}},
		Labels:   map[string]string{"team": "infra"},
	}

	assert.Equal(t, Compute(a), Compute(b), "fingerprint should not depend on map/slice iteration order")
}

func TestComputeIgnoresEphemeralLabels(t *testing.T) {
	a := Input{ImageRef: "app:1", Labels: map[string]string{"team": "infra"}}
	b := Input{ImageRef: "app:1", Labels: map[string]string{
		"team":                           "infra",
		EphemeralLabelPrefix + "slot-id": "xyz",
	}}

	assert.Equal(t, Compute(a), Compute(b), "ephemeral-prefixed labels should not affect the fingerprint")
}

func TestComputeChangesWithImage(t *testing.T) {
	a := Compute(Input{ImageRef: "app:1"})
	b := Compute(Input{ImageRef: "app:2"})
	assert.NotEqual(t, a, b, "different image refs should produce different fingerprints")
}
