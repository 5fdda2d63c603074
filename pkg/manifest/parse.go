package manifest

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// IsIndex reports whether the media type names a manifest list / image index
// rather than a single-platform manifest.
func IsIndex(mediaType string) bool {
	return mediaType == DockerManifestListMediaType || mediaType == ocispec.MediaTypeImageIndex
}

// Parse normalizes a raw manifest payload into the shared Manifest shape.
// contentType selects the wire format; dgst is the content digest reported by
// the server (may be empty, in which case it is computed from the payload).
func Parse(data []byte, contentType string, dgst digest.Digest) (*Manifest, error) {
	mediaType := baseMediaType(contentType)
	if dgst == "" {
		dgst = digest.FromBytes(data)
	} else if err := dgst.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest digest %q: %w", dgst, err)
	}

	switch mediaType {
	case ocispec.MediaTypeImageManifest:
		var m ocispec.Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse OCI manifest: %w", err)
		}
		out := &Manifest{
			Digest:    dgst,
			MediaType: mediaType,
			Config: Layer{
				Digest:    m.Config.Digest,
				MediaType: m.Config.MediaType,
				Size:      m.Config.Size,
			},
		}
		for _, l := range m.Layers {
			out.Layers = append(out.Layers, Layer{Digest: l.Digest, MediaType: l.MediaType, Size: l.Size})
			out.TotalSize += l.Size
		}
		return out, nil

	case DockerManifestMediaType, "":
		// Some registries omit Content-Type on manifest responses; the Docker
		// v2 schema is the common fallback.
		var m dockerManifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse Docker manifest: %w", err)
		}
		if m.SchemaVersion != 2 {
			return nil, fmt.Errorf("unsupported manifest schema version %d", m.SchemaVersion)
		}
		cfgDigest, err := digest.Parse(m.Config.Digest)
		if err != nil {
			return nil, fmt.Errorf("invalid config digest %q: %w", m.Config.Digest, err)
		}
		out := &Manifest{
			Digest:    dgst,
			MediaType: DockerManifestMediaType,
			Config: Layer{
				Digest:    cfgDigest,
				MediaType: m.Config.MediaType,
				Size:      m.Config.Size,
			},
		}
		for _, l := range m.Layers {
			ld, err := digest.Parse(l.Digest)
			if err != nil {
				return nil, fmt.Errorf("invalid layer digest %q: %w", l.Digest, err)
			}
			out.Layers = append(out.Layers, Layer{Digest: ld, MediaType: l.MediaType, Size: l.Size})
			out.TotalSize += l.Size
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unsupported manifest media type: %s", contentType)
	}
}

// SelectPlatform picks the manifest digest for the current platform from a
// manifest list / image index payload. Falls back to the first entry when no
// linux manifest matches the host architecture.
func SelectPlatform(data []byte) (digest.Digest, error) {
	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return "", fmt.Errorf("failed to parse manifest index: %w", err)
	}
	if len(idx.Manifests) == 0 {
		return "", fmt.Errorf("manifest index contains no manifests")
	}
	for _, m := range idx.Manifests {
		if m.Platform != nil && m.Platform.OS == "linux" && m.Platform.Architecture == runtime.GOARCH {
			return digest.Parse(m.Digest)
		}
	}
	return digest.Parse(idx.Manifests[0].Digest)
}

// ParseImageConfig extracts the creation timestamp from an image config blob.
// Both Docker and OCI config formats carry the same top-level "created" field.
func ParseImageConfig(data []byte) (time.Time, error) {
	var cfg ocispec.Image
	if err := json.Unmarshal(data, &cfg); err != nil {
		return time.Time{}, fmt.Errorf("failed to parse image config: %w", err)
	}
	if cfg.Created == nil {
		return time.Time{}, nil
	}
	return *cfg.Created, nil
}

// baseMediaType strips parameters like "; charset=utf-8".
func baseMediaType(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}
