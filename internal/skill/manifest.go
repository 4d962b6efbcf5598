package skill

import (
	"sort"

	"github.com/mosiyuan/cis/internal/cerr"
	"github.com/mosiyuan/cis/internal/identity"
	"github.com/mosiyuan/cis/internal/storage"
	"github.com/mosiyuan/cis/internal/telemetry"
)

// Manifest is spec.md §3's Skill Manifest.
type Manifest struct {
	Name           string          `json:"name"`
	Version        string          `json:"version"`
	Type           Variant         `json:"type"`
	Permissions    PermissionSet   `json:"permissions"`
	ResourceLimits ResourceLimits  `json:"resource_limits"`
	EntryPoints    map[string]string `json:"entry_points"`
	Signature      []byte          `json:"signature,omitempty"`

	// InstallerDID identifies the signer when Signature is present;
	// empty for a locally-installed, unsigned manifest.
	InstallerDID string `json:"installer_did,omitempty"`
}

// canonicalBytes is what Signature covers: name, version, type, and
// entry points (sorted by name), in a fixed order so independent
// installers reproduce the same signed payload.
func (m Manifest) canonicalBytes() []byte {
	out := []byte(m.Name)
	out = append(out, 0)
	out = append(out, []byte(m.Version)...)
	out = append(out, 0)
	out = append(out, []byte(m.Type)...)
	names := make([]string, 0, len(m.EntryPoints))
	for name := range m.EntryPoints {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out = append(out, 0)
		out = append(out, []byte(name)...)
		out = append(out, '=')
		out = append(out, []byte(m.EntryPoints[name])...)
	}
	return out
}

// Verify checks Manifest.Signature against rawPub, implementing
// SPEC_FULL.md §6's supplemented manifest-signature rule: present and
// valid → verified install; present and invalid → rejected; absent →
// trust-on-first-use, logged once by the registry at Install time.
func (m Manifest) Verify(rawPub []byte) (bool, error) {
	if len(m.Signature) == 0 {
		return false, nil
	}
	ok, err := identity.VerifyWithRawEd25519(rawPub, m.canonicalBytes(), m.Signature)
	if err != nil {
		return false, cerr.New(cerr.Crypto, "skill.Manifest.Verify", err)
	}
	return ok, nil
}

// Registry is the skills.db-backed catalog of installed manifests.
type Registry struct {
	bucket *storage.Bucket
}

func NewRegistry(bucket *storage.Bucket) *Registry {
	return &Registry{bucket: bucket}
}

// Install persists manifest, verifying its signature when present. An
// unsigned manifest is accepted trust-on-first-use and logged once.
func (r *Registry) Install(m Manifest, signerPub []byte) error {
	log := telemetry.Component("skill")
	if len(m.Signature) == 0 {
		log.Info().Str("skill", m.Name).Msg("installing unsigned manifest (trust-on-first-use)")
	} else {
		ok, err := m.Verify(signerPub)
		if err != nil {
			return err
		}
		if !ok {
			return cerr.New(cerr.Crypto, "skill.Registry.Install", errSignatureInvalid)
		}
	}
	return r.bucket.Put(m.Name, m)
}

var errSignatureInvalid = manifestSignatureError{}

type manifestSignatureError struct{}

func (manifestSignatureError) Error() string { return "skill: manifest signature verification failed" }

func (r *Registry) Get(name string) (Manifest, error) {
	var m Manifest
	err := r.bucket.Get(name, &m)
	return m, err
}

func (r *Registry) List() ([]Manifest, error) {
	var out []Manifest
	err := r.bucket.ForEach(func(_ string, value []byte) error {
		var m Manifest
		if err := decodeJSON(value, &m); err != nil {
			return err
		}
		out = append(out, m)
		return nil
	})
	return out, err
}

func (r *Registry) Uninstall(name string) error {
	return r.bucket.Delete(name)
}
