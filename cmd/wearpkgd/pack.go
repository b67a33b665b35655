package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/wearpkg/internal/pkgfile"
	"github.com/mattjoyce/wearpkg/internal/stage"
)

func runPack(args []string) int {
	var manifestPath, iconPath, outPath, compression string

	fs := flag.NewFlagSet("pack", flag.ContinueOnError)
	fs.StringVar(&manifestPath, "manifest", "", "Path to manifest YAML (required)")
	fs.StringVar(&iconPath, "icon", "", "Path to PNG icon")
	fs.StringVar(&outPath, "out", "", "Output archive path (required)")
	fs.StringVar(&compression, "compress", "", "Compress the archive: "+fmt.Sprint(stage.SupportedAlgorithms))
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if manifestPath == "" || outPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --manifest and --out are required")
		return 1
	}

	if err := pack(manifestPath, iconPath, outPath, compression); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to pack: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", outPath)
	return 0
}

func pack(manifestPath, iconPath, outPath, compression string) (err error) {
	alg, err := stage.ParseAlgorithm(compression)
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var m pkgfile.Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}

	var icon image.Image
	if iconPath != "" {
		f, err := os.Open(iconPath)
		if err != nil {
			return fmt.Errorf("open icon: %w", err)
		}
		icon, err = png.Decode(f)
		_ = f.Close()
		if err != nil {
			return fmt.Errorf("decode icon: %w", err)
		}
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(outPath)
		}
	}()

	w, err := newCompressor(alg, out)
	if err != nil {
		return err
	}
	if err := pkgfile.Write(w, m, icon); err != nil {
		return err
	}
	return w.Close()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// newCompressor mirrors the decompressors the stager accepts.
func newCompressor(alg string, w io.Writer) (io.WriteCloser, error) {
	switch alg {
	case stage.AlgorithmNone:
		return nopWriteCloser{w}, nil
	case stage.AlgorithmGzip:
		return gzip.NewWriter(w), nil
	case stage.AlgorithmZstd:
		return zstd.NewWriter(w)
	case stage.AlgorithmLZ4:
		return lz4.NewWriter(w), nil
	case stage.AlgorithmLZMA:
		return lzma.NewWriter(w)
	case stage.AlgorithmXZ:
		return xz.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported compression %q", alg)
	}
}
