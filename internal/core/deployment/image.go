package deployment

import (
	"fmt"

	"github.com/distribution/reference"
)

// DefaultImageTag is the tag pulled when none is given.
const DefaultImageTag = "latest"

// ImageRef builds the fully-qualified image reference for a service.
// Pattern: {repository}/{prefix}{service}:{tag}, normalised to the canonical form.
//
// Example:
//
//	ImageRef("swecc", "swecc-", "server", "") // "docker.io/swecc/swecc-server:latest"
func ImageRef(repository, prefix, service, tag string) (string, error) {
	if tag == "" {
		tag = DefaultImageTag
	}
	name := prefix + service
	if repository != "" {
		name = repository + "/" + name
	}

	named, err := reference.ParseNormalizedNamed(name)
	if err != nil {
		return "", fmt.Errorf("invalid image name %q: %w", name, err)
	}
	tagged, err := reference.WithTag(reference.TrimNamed(named), tag)
	if err != nil {
		return "", fmt.Errorf("invalid image tag %q: %w", tag, err)
	}
	return tagged.String(), nil
}
