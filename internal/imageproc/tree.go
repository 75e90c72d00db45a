package imageproc

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-processor/internal/storage"
)

// populateFromTree reconstructs a Descriptor's shape from an already
// committed folder, per the on-disk layout
// "<digest>/<filename>.<orig_format>" and "<digest>/<WxH>/<filename>.<format>".
func populateFromTree(digest string, entries []storage.FolderEntry) (Descriptor, error) {
	desc := Descriptor{Digest: digest}

	var files []storage.FolderEntry
	var folders []storage.FolderEntry
	for _, e := range entries {
		if e.IsFile() {
			files = append(files, e)
		} else {
			folders = append(folders, e)
		}
	}

	if len(files) == 0 {
		return Descriptor{}, fmt.Errorf("%w: committed folder %s has no root-level file", ErrInternal, digest)
	}
	if len(files) > 1 {
		zlog.Logger.Warn().
			Str("digest", digest).
			Int("count", len(files)).
			Msg("committed folder has more than one root-level file; picking the first")
	}

	stem, ext := splitExt(files[0].Name)
	desc.SanitizedName = stem
	desc.Original = DimensionSpec{Formats: []string{ext}}

	variants := make([]DimensionSpec, 0, len(folders))
	for _, folder := range folders {
		width, height, err := parseWxH(folder.Name)
		if err != nil {
			return Descriptor{}, fmt.Errorf("%w: %s", ErrInternal, err)
		}

		var formats []string
		for _, leaf := range folder.Children {
			if !leaf.IsFile() {
				return Descriptor{}, fmt.Errorf("%w: unexpected nested folder under %s", ErrInternal, folder.Name)
			}
			leafStem, leafExt := splitExt(leaf.Name)
			if leafStem != stem {
				return Descriptor{}, fmt.Errorf("%w: variant file %s does not share filename stem %q", ErrInternal, leaf.Name, stem)
			}
			formats = append(formats, leafExt)
		}
		sort.Strings(formats)

		variants = append(variants, DimensionSpec{Width: width, Height: height, Formats: formats})
	}

	sort.Slice(variants, func(i, j int) bool { return variants[i].Width < variants[j].Width })
	desc.Variants = variants

	return desc, nil
}

func splitExt(name string) (stem, ext string) {
	e := path.Ext(name)
	return strings.TrimSuffix(name, e), strings.TrimPrefix(e, ".")
}

func parseWxH(name string) (width, height uint, err error) {
	parts := strings.SplitN(name, "x", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("folder name %q is not in WxH form", name)
	}
	w, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("folder name %q has a non-numeric width: %w", name, err)
	}
	h, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("folder name %q has a non-numeric height: %w", name, err)
	}
	return uint(w), uint(h), nil
}
