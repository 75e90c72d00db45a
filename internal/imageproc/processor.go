// Package imageproc implements the per-upload processing pipeline: digest
// computation, dedup against a process-local registry, decode, fan-out
// resize/encode, and atomic commit to a storage backend.
package imageproc

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"

	"github.com/wb-go/wbf/zlog"

	"github.com/aliskhannn/image-processor/internal/dedup"
	"github.com/aliskhannn/image-processor/internal/pool"
	"github.com/aliskhannn/image-processor/internal/sanitize"
	"github.com/aliskhannn/image-processor/internal/storage"
)

// sizeFormatSource is the subset of *config.Config the processor depends
// on, so tests can supply a stub instead of a full parsed config file.
type sizeFormatSource interface {
	GetSizes(originalWidth uint) []uint
	GetFormats(format string) []string
}

// Factory holds the shared dependencies every upload's Processor is built
// from: the worker pool, the storage backend, the dedup registry, and the
// configured size/format rules.
type Factory struct {
	Pool     *pool.Pool
	Backend  storage.Backend
	Registry *dedup.Registry
	Config   sizeFormatSource
}

// ReadyCallback receives the finished descriptor, or the error the
// pipeline terminated with. It may run on any worker goroutine.
type ReadyCallback func(*Descriptor, error)

// Processor drives one upload's pipeline to completion. It stays
// reachable, and therefore alive, for as long as any task closure
// submitted to its group references it; once the group finalizes and the
// last closure returns, nothing keeps it around.
type Processor struct {
	factory *Factory
	ctx     context.Context

	data          []byte
	sanitizedName string
	suggestedExt  string
	ready         ReadyCallback

	mu            sync.Mutex
	desc          Descriptor
	isOwner       bool
	stagedHandle  storage.StagedHandle
	decodedImage  image.Image
	originalFmt   string

	group *pool.Group
}

// Create sanitizes suggestedFilename, builds a Processor bound to
// factory, and enqueues its initial task. The returned handle is for
// tests; callers normally just let the ready callback fire.
func Create(ctx context.Context, factory *Factory, data []byte, suggestedFilename string, ready ReadyCallback) *Processor {
	rawStem, ext := stemAndExt(suggestedFilename)
	stem := sanitize.Filename(rawStem)

	p := &Processor{
		factory:       factory,
		ctx:           ctx,
		data:          data,
		sanitizedName: stem,
		suggestedExt:  ext,
		ready:         ready,
	}
	p.desc.SanitizedName = stem

	p.group = pool.NewGroup(factory.Pool,
		func(err error) { p.finalize(err) },
		func() { p.finalize(nil) },
	)
	p.group.AddTask(p.initialTask)

	return p
}

// stemAndExt splits name at its last '.', the same naive whole-string
// search the original's get_filename_without_extension/get_extension
// use. Unlike filepath.Base/Ext, this does not stop at path separators:
// a suggested filename carrying directory components (or traversal
// segments like "../") keeps them in the stem, so sanitize.Filename is
// the thing that turns them into "_" rather than this split silently
// discarding them first.
func stemAndExt(name string) (stem, ext string) {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}

func (p *Processor) initialTask() error {
	digest := Digest(p.data)
	p.desc.Digest = digest

	if desc, ok, err := p.walkAndPopulate(digest); err != nil {
		return err
	} else if ok {
		p.desc = desc
		p.desc.IsNew = false
		return nil
	}

	wait, isOwner := p.factory.Registry.Register(digest)
	if !isOwner {
		<-wait
		desc, ok, err := p.walkAndPopulate(digest)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: digest %s missing after waiting on its owner", ErrInternal, digest)
		}
		p.desc = desc
		p.desc.IsNew = false
		return nil
	}

	p.mu.Lock()
	p.isOwner = true
	p.mu.Unlock()

	// Defends against the rare race where the owning processor committed
	// between our first walk above and winning Register just now.
	if desc, ok, err := p.walkAndPopulate(digest); err != nil {
		return err
	} else if ok {
		p.desc = desc
		p.desc.IsNew = false
		return nil
	}

	p.desc.IsNew = true

	handle, err := p.factory.Backend.CreateStaged(p.ctx, digest)
	if err != nil {
		return fmt.Errorf("%w: creating staged folder: %v", ErrInternal, err)
	}
	p.mu.Lock()
	p.stagedHandle = handle
	p.mu.Unlock()

	p.group.AddTask(p.loadAndFanOutTask)
	return nil
}

func (p *Processor) walkAndPopulate(digest string) (Descriptor, bool, error) {
	entries, ok, err := p.factory.Backend.Walk(p.ctx, digest)
	if err != nil {
		return Descriptor{}, false, fmt.Errorf("%w: walking %s: %v", ErrInternal, digest, err)
	}
	if !ok {
		return Descriptor{}, false, nil
	}
	desc, err := populateFromTree(digest, entries)
	if err != nil {
		return Descriptor{}, false, err
	}
	return desc, true, nil
}

func (p *Processor) loadAndFanOutTask() error {
	format := ProbeFormat(p.data)
	if format == "" {
		format = p.suggestedExt
	}
	if format == "" {
		return fmt.Errorf("%w: could not determine an input format", ErrInvalidImage)
	}

	p.mu.Lock()
	p.originalFmt = format
	p.desc.Original.Formats = []string{format}
	handle := p.stagedHandle
	p.mu.Unlock()

	originalName := fmt.Sprintf("%s.%s", p.sanitizedName, format)
	if err := handle.CreateFile(p.ctx, originalName, p.data); err != nil {
		return fmt.Errorf("%w: writing original: %v", ErrInternal, err)
	}

	img, err := Decode(p.data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	bounds := img.Bounds()
	width, height := uint(bounds.Dx()), uint(bounds.Dy())

	p.mu.Lock()
	p.decodedImage = img
	p.desc.Original.Width = width
	p.desc.Original.Height = height

	widths := p.factory.Config.GetSizes(width)
	variants := make([]DimensionSpec, len(widths))
	for i, w := range widths {
		variants[i] = DimensionSpec{Width: w}
	}
	p.desc.Variants = variants
	p.mu.Unlock()

	for i := range variants {
		i := i
		p.group.AddTask(func() error { return p.resizeTask(i) })
	}

	return nil
}

func (p *Processor) resizeTask(index int) error {
	p.mu.Lock()
	img := p.decodedImage
	width := p.desc.Variants[index].Width
	handle := p.stagedHandle
	originalFmt := p.originalFmt
	p.mu.Unlock()

	resized := Resize(img, width)
	height := uint(resized.Bounds().Dy())

	formats := dedupeSorted(p.factory.Config.GetFormats(originalFmt))
	if len(formats) == 0 {
		return fmt.Errorf("%w: no output formats configured for input format %q", ErrInternal, originalFmt)
	}

	p.mu.Lock()
	p.desc.Variants[index].Height = height
	p.desc.Variants[index].Formats = formats
	p.mu.Unlock()

	subfolder := fmt.Sprintf("%dx%d", width, height)
	if err := handle.CreateSubfolder(p.ctx, subfolder); err != nil {
		return fmt.Errorf("%w: creating subfolder %s: %v", ErrInternal, subfolder, err)
	}

	for fi := range formats {
		fi := fi
		p.group.AddTask(func() error { return p.encodeTask(index, fi, resized, width, height) })
	}

	return nil
}

func (p *Processor) encodeTask(variantIndex, formatIndex int, resized image.Image, width, height uint) error {
	p.mu.Lock()
	format := p.desc.Variants[variantIndex].Formats[formatIndex]
	handle := p.stagedHandle
	p.mu.Unlock()

	data, err := Encode(resized, format)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}

	relPath := fmt.Sprintf("%dx%d/%s.%s", width, height, p.sanitizedName, format)
	if err := handle.CreateFile(p.ctx, relPath, data); err != nil {
		return fmt.Errorf("%w: writing %s: %v", ErrInternal, relPath, err)
	}
	return nil
}

func dedupeSorted(in []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, f := range in {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (p *Processor) finalize(taskErr error) {
	p.mu.Lock()
	isOwner := p.isOwner
	handle := p.stagedHandle
	digest := p.desc.Digest
	desc := p.desc
	p.mu.Unlock()

	if isOwner && handle != nil {
		if taskErr == nil {
			if err := p.factory.Backend.Commit(p.ctx, handle, digest); err != nil {
				taskErr = fmt.Errorf("%w: committing staged folder: %v", ErrInternal, err)
			}
		} else {
			if discardErr := handle.Discard(p.ctx); discardErr != nil {
				zlog.Logger.Err(discardErr).Str("digest", digest).Msg("failed to discard staged folder after processing error")
			}
		}
	}

	if isOwner {
		p.factory.Registry.Finish(digest)
	}

	if taskErr != nil {
		p.ready(nil, taskErr)
		return
	}
	p.ready(&desc, nil)
}
