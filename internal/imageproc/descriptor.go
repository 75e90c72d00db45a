package imageproc

// DimensionSpec describes one sized rendition of an image: its pixel
// dimensions and the set of formats it was (or will be) encoded into.
type DimensionSpec struct {
	Width   uint
	Height  uint
	Formats []string
}

// Descriptor is the complete result of processing one upload.
type Descriptor struct {
	Digest           string
	SanitizedName    string
	Original         DimensionSpec
	Variants         []DimensionSpec
	IsNew            bool
}
