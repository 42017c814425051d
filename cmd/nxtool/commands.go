package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/nxfs/internal/logger"
	"github.com/marmos91/nxfs/pkg/backend"
	"github.com/marmos91/nxfs/pkg/config"
	"github.com/marmos91/nxfs/pkg/convert/fits"
	"github.com/marmos91/nxfs/pkg/napi"
)

var errUsage = errors.New("wrong number of arguments")

func (e *env) open(ctx context.Context, file string, mode napi.AccessMode) (*napi.Handle, error) {
	return e.api.Open(ctx, file, mode|e.flags)
}

// closeAll closes every file of h, including mounted ones.
func closeAll(ctx context.Context, h *napi.Handle) error {
	var err error
	for !h.Closed() {
		if cerr := h.Close(ctx); cerr != nil {
			if napi.CodeOf(cerr) == napi.ErrClosed {
				break
			}
			err = errors.Join(err, cerr)
		}
	}
	return err
}

func createMode(format string) (napi.AccessMode, error) {
	switch strings.ToLower(format) {
	case "":
		return napi.Create, nil
	case "kv":
		return napi.CreateKV, nil
	case "yaml":
		return napi.CreateYAML, nil
	case "xml":
		return napi.CreateXML, nil
	}
	return 0, fmt.Errorf("unknown format %q", format)
}

func parse(fs *flag.FlagSet, args []string, min, max int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() < min || fs.NArg() > max {
		return nil, errUsage
	}
	return fs.Args(), nil
}

// ============================================================================
// Commands
// ============================================================================

func runInit(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	force := fs.Bool("force", false, "Overwrite an existing file")
	path := fs.String("path", config.GetDefaultConfigPath(), "Where to write the file")
	if _, err := parse(fs, args, 0, 0); err != nil {
		return err
	}
	if err := config.InitConfigToPath(*path, *force); err != nil {
		return err
	}
	fmt.Fprintf(e.out, "wrote %s\n", *path)
	return nil
}

func runInfo(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	h, err := e.open(ctx, rest[0], napi.Read)
	if err != nil {
		return err
	}
	defer func() { _ = closeAll(ctx, h) }()

	name, err := h.InquireFile(ctx)
	if err != nil {
		return err
	}
	family, err := h.Family(ctx)
	if err != nil {
		return err
	}
	info, err := h.GetGroupInfo(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(e.out, "file:    %s\nbackend: %s\nentries: %d\n", name, family, info.Items)
	return printAttrs(ctx, e, h, "")
}

func runLs(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("ls", flag.ContinueOnError)
	recursive := fs.Bool("r", false, "List subgroups recursively")
	rest, err := parse(fs, args, 1, 2)
	if err != nil {
		return err
	}
	h, err := e.open(ctx, rest[0], napi.Read)
	if err != nil {
		return err
	}
	defer func() { _ = closeAll(ctx, h) }()

	if len(rest) == 2 {
		if err := h.OpenGroupPath(ctx, rest[1]); err != nil {
			return err
		}
	}
	return list(ctx, e, h, "", *recursive)
}

func list(ctx context.Context, e *env, h *napi.Handle, indent string, recursive bool) error {
	var entries []backend.Entry
	if err := h.InitGroupDir(ctx); err != nil {
		return err
	}
	for {
		ent, err := h.GetNextEntry(ctx)
		if errors.Is(err, napi.ErrEOD) {
			break
		}
		if err != nil {
			return err
		}
		entries = append(entries, ent)
	}

	for _, ent := range entries {
		if ent.IsDataset() {
			fmt.Fprintf(e.out, "%s%s\t%s\n", indent, ent.Name, ent.Type)
			continue
		}
		fmt.Fprintf(e.out, "%s%s/\t%s\n", indent, ent.Name, ent.Class)
		if !recursive {
			continue
		}
		depth := h.Depth(ctx)
		if err := h.OpenGroup(ctx, ent.Name, ent.Class); err != nil {
			logger.Warn("cannot enter %s: %v", ent.Name, err)
			continue
		}
		if h.Depth(ctx) > depth {
			fmt.Fprintf(e.out, "%s  (mounted)\n", indent)
		}
		if err := list(ctx, e, h, indent+"  ", true); err != nil {
			return err
		}
		if err := h.CloseGroup(ctx); err != nil {
			return err
		}
	}
	return nil
}

func runCat(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("cat", flag.ContinueOnError)
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	h, err := e.open(ctx, rest[0], napi.Read)
	if err != nil {
		return err
	}
	defer func() { _ = closeAll(ctx, h) }()

	if err := h.OpenPath(ctx, rest[1]); err != nil {
		return err
	}
	dims, dtype, err := h.GetInfo(ctx)
	if err != nil {
		return err
	}
	data, err := h.GetData(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%s %v\n", dtype, dims)
	if err := printAttrs(ctx, e, h, "@"); err != nil {
		return err
	}
	if b, ok := data.([]byte); ok && dtype == backend.Char {
		fmt.Fprintf(e.out, "%s\n", b)
		return nil
	}
	fmt.Fprintf(e.out, "%v\n", data)
	return nil
}

func printAttrs(ctx context.Context, e *env, h *napi.Handle, prefix string) error {
	if err := h.InitAttrDir(ctx); err != nil {
		return err
	}
	var names []string
	for {
		info, err := h.GetNextAttr(ctx)
		if errors.Is(err, napi.ErrEOD) {
			break
		}
		if err != nil {
			return err
		}
		names = append(names, info.Name)
	}
	for _, name := range names {
		a, err := h.GetAttr(ctx, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(e.out, "%s%s = %s\n", prefix, name, a)
	}
	return nil
}

func runMkfile(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("mkfile", flag.ContinueOnError)
	format := fs.String("format", "", "Container format: kv, yaml or xml (default from config)")
	rest, err := parse(fs, args, 1, 1)
	if err != nil {
		return err
	}
	mode, err := createMode(*format)
	if err != nil {
		return err
	}
	h, err := e.open(ctx, rest[0], mode)
	if err != nil {
		return err
	}
	return closeAll(ctx, h)
}

func runLink(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("link", flag.ContinueOnError)
	dataset := fs.Bool("dataset", false, "Create a dataset gateway instead of a group")
	class := fs.String("class", "NXentry", "Class of the gateway group")
	rest, err := parse(fs, args, 4, 4)
	if err != nil {
		return err
	}
	file, group, name, url := rest[0], rest[1], rest[2], rest[3]

	h, err := e.open(ctx, file, napi.ReadWrite)
	if err != nil {
		return err
	}
	if err := h.OpenGroupPath(ctx, group); err != nil {
		return errors.Join(err, closeAll(ctx, h))
	}
	if *dataset {
		err = h.LinkExternalDataset(ctx, name, url)
	} else {
		err = h.LinkExternal(ctx, name, *class, url)
	}
	return errors.Join(err, closeAll(ctx, h))
}

func runImportFITS(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("import-fits", flag.ContinueOnError)
	entry := fs.String("entry", "entry", "Name of the NXentry group")
	format := fs.String("format", "", "Container format: kv, yaml or xml (default from config)")
	skipHeader := fs.Bool("skip-header", false, "Do not copy FITS header cards")
	rest, err := parse(fs, args, 2, 2)
	if err != nil {
		return err
	}
	mode, err := createMode(*format)
	if err != nil {
		return err
	}

	in, err := os.Open(rest[0])
	if err != nil {
		return err
	}
	defer in.Close()

	h, err := e.open(ctx, rest[1], mode)
	if err != nil {
		return err
	}
	sum, err := fits.Import(ctx, h, in, fits.Options{Entry: *entry, SkipHeader: *skipHeader})
	if cerr := closeAll(ctx, h); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	for _, img := range sum.Images {
		fmt.Fprintln(e.out, img)
	}
	logger.Info("Imported %d image(s), skipped %d HDU(s)", len(sum.Images), sum.Skipped)
	return nil
}

func runExportFITS(ctx context.Context, e *env, args []string) error {
	fs := flag.NewFlagSet("export-fits", flag.ContinueOnError)
	rest, err := parse(fs, args, 3, 3)
	if err != nil {
		return err
	}
	h, err := e.open(ctx, rest[0], napi.Read)
	if err != nil {
		return err
	}
	defer func() { _ = closeAll(ctx, h) }()

	out, err := os.Create(rest[2])
	if err != nil {
		return err
	}
	if err := fits.Export(ctx, h, rest[1], out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
