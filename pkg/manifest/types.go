package manifest

import (
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Docker v2.2 media types. The OCI equivalents come from the image-spec module.
const (
	DockerManifestMediaType     = "application/vnd.docker.distribution.manifest.v2+json"
	DockerManifestListMediaType = "application/vnd.docker.distribution.manifest.list.v2+json"
	DockerConfigMediaType       = "application/vnd.docker.container.image.v1+json"
	DockerLayerMediaType        = "application/vnd.docker.image.rootfs.diff.tar.gzip"
)

// AcceptHeader negotiates both Docker v2 and OCI manifest formats, single
// manifests preferred over indexes.
var AcceptHeader = []string{
	DockerManifestMediaType,
	ocispec.MediaTypeImageManifest,
	DockerManifestListMediaType,
	ocispec.MediaTypeImageIndex,
}

// Manifest is the normalized shape shared by remote, local and mock sources.
// Docker v2 and OCI manifests both reduce to it.
type Manifest struct {
	Digest    digest.Digest
	MediaType string
	Config    Layer
	Layers    []Layer
	TotalSize int64
}

// Layer is one content-addressed blob referenced by a manifest.
type Layer struct {
	Digest    digest.Digest
	MediaType string
	Size      int64
}

// dockerManifest mirrors the Docker v2.2 manifest wire format. The OCI form
// decodes into ocispec.Manifest directly.
type dockerManifest struct {
	SchemaVersion int                `json:"schemaVersion"`
	MediaType     string             `json:"mediaType"`
	Config        dockerDescriptor   `json:"config"`
	Layers        []dockerDescriptor `json:"layers"`
}

type dockerDescriptor struct {
	MediaType string `json:"mediaType"`
	Digest    string `json:"digest"`
	Size      int64  `json:"size"`
}

// index covers both OCI image indexes and Docker manifest lists; the fields
// used here are identical.
type index struct {
	SchemaVersion int               `json:"schemaVersion"`
	MediaType     string            `json:"mediaType"`
	Manifests     []indexDescriptor `json:"manifests"`
}

type indexDescriptor struct {
	MediaType string    `json:"mediaType"`
	Digest    string    `json:"digest"`
	Size      int64     `json:"size"`
	Platform  *platform `json:"platform,omitempty"`
}

type platform struct {
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	Variant      string `json:"variant,omitempty"`
}
