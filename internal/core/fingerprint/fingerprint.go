// Package fingerprint computes the stable env_fingerprint hash: a digest
// over image reference, environment, mounts, ports, and non-ephemeral
// labels, stable across repeated inspection of the same logical
// configuration. Labels whose keys start with EphemeralLabelPrefix are
// treated as ephemeral and left out.
package fingerprint

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// EphemeralLabelPrefix marks labels excluded from the fingerprint because
// they are expected to vary across otherwise-identical recreations (e.g. a
// timestamp or a scheduler-assigned slot).
const EphemeralLabelPrefix = "org.watchtower.ephemeral/"

// Input is the set of fields the fingerprint is computed over.
type Input struct {
	ImageRef string
	Env      map[string]string
	Mounts   []Mount
	Ports    []Port
	Labels   map[string]string
}

// Mount is a bind or named-volume mount.
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Port is a published port mapping.
type Port struct {
	ContainerPort int
	HostPort      int
	Protocol      string
	HostIP        string
}

// Compute returns a stable hex-encoded BLAKE2b-256 digest over in. Map and
// slice order never affects the result: every component is sorted before
// hashing.
func Compute(in Input) string {
	var b strings.Builder

	b.WriteString("image=")
	b.WriteString(in.ImageRef)
	b.WriteByte('\n')

	envKeys := make([]string, 0, len(in.Env))
	for k := range in.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		fmt.Fprintf(&b, "env=%s=%s\n", k, in.Env[k])
	}

	mounts := append([]Mount(nil), in.Mounts...)
	sort.Slice(mounts, func(i, j int) bool {
		if mounts[i].Source != mounts[j].Source {
			return mounts[i].Source < mounts[j].Source
		}
		return mounts[i].Target < mounts[j].Target
	})
	for _, m := range mounts {
		fmt.Fprintf(&b, "mount=%s:%s:%v\n", m.Source, m.Target, m.ReadOnly)
	}

	ports := append([]Port(nil), in.Ports...)
	sort.Slice(ports, func(i, j int) bool {
		if ports[i].ContainerPort != ports[j].ContainerPort {
			return ports[i].ContainerPort < ports[j].ContainerPort
		}
		return ports[i].Protocol < ports[j].Protocol
	})
	for _, p := range ports {
		fmt.Fprintf(&b, "port=%d:%d/%s@%s\n", p.ContainerPort, p.HostPort, p.Protocol, p.HostIP)
	}

	labelKeys := make([]string, 0, len(in.Labels))
	for k := range in.Labels {
		if strings.HasPrefix(k, EphemeralLabelPrefix) {
			continue
		}
		labelKeys = append(labelKeys, k)
	}
	sort.Strings(labelKeys)
	for _, k := range labelKeys {
		fmt.Fprintf(&b, "label=%s=%s\n", k, in.Labels[k])
	}

	sum := blake2b.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum)
}
