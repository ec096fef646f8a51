package archive

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/opencontainers/go-digest"

	"github.com/nutanix/nai-llm/pkg/logging"
)

const (
	// versionPrefixLen is the number of leading characters of the repository
	// revision included in the archive name.
	versionPrefixLen = 7
	// manifestPath is the manifest location inside the archive, matching the
	// layout the serving runtime expects.
	manifestPath = "MAR-INF/MANIFEST.json"
	// archiverVersion is recorded in generated manifests.
	archiverVersion = "1.0"
)

// weightSuffixes are the file suffixes treated as model weights during
// validation.
var weightSuffixes = []string{".bin", ".pt", ".pth", ".safetensors"}

// Artifact describes a generated model archive on disk.
type Artifact struct {
	ModelName string
	Version   string
	Path      string
	Size      int64
	Digest    digest.Digest
}

// Options configure archive generation.
type Options struct {
	// ModelName is the serving name of the model.
	ModelName string
	// Version is the model version, typically a repository revision. Empty
	// for custom models, in which case the archive is named after the model
	// alone.
	Version string
	// ModelDir is the directory holding the downloaded model files.
	ModelDir string
	// HandlerPath is the handler script bundled into the archive.
	HandlerPath string
	// OutputDir is where the finished archive is placed.
	OutputDir string
}

// Name returns the archive base name (without extension) for a model and
// version: "<model>_<first 7 chars of version>", or just "<model>" when no
// version is known.
func Name(modelName, version string) string {
	if version == "" {
		return modelName
	}
	prefix := version
	if len(prefix) > versionPrefixLen {
		prefix = prefix[:versionPrefixLen]
	}
	return fmt.Sprintf("%s_%s", modelName, prefix)
}

// Exists reports whether an archive for the given model and version is
// already present in outputDir, returning its path when it is.
func Exists(outputDir, modelName, version string) (string, bool) {
	path := filepath.Join(outputDir, Name(modelName, version)+".mar")
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}

// manifest is the archive metadata consumed by the serving runtime.
type manifest struct {
	CreatedOn       string        `json:"createdOn"`
	Runtime         string        `json:"runtime"`
	Model           manifestModel `json:"model"`
	ArchiverVersion string        `json:"archiverVersion"`
}

type manifestModel struct {
	ModelName     string `json:"modelName"`
	ModelVersion  string `json:"modelVersion"`
	Handler       string `json:"handler"`
	WeightsDigest string `json:"weightsDigest,omitempty"`
}

// Generate validates the model directory and packs weights, handler, and
// manifest into a single archive in opts.OutputDir. The archive is assembled
// in a temporary directory and then moved into place, silently replacing any
// previous archive of the same name and version.
func Generate(log logging.Logger, opts Options) (*Artifact, error) {
	files, err := collectModelFiles(opts.ModelDir)
	if err != nil {
		return nil, &PackagingError{Model: opts.ModelName, Err: err}
	}
	if err := validateWeights(log, opts.ModelDir, files); err != nil {
		return nil, &PackagingError{Model: opts.ModelName, Err: err}
	}
	if _, err := os.Stat(opts.HandlerPath); err != nil {
		return nil, &PackagingError{Model: opts.ModelName, Err: ErrMissingHandler}
	}

	name := Name(opts.ModelName, opts.Version) + ".mar"
	tmpDir := filepath.Join(opts.OutputDir, "tmp_"+Name(opts.ModelName, opts.Version))
	if err := os.RemoveAll(tmpDir); err != nil {
		return nil, &PackagingError{Model: opts.ModelName, Err: err}
	}
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, &PackagingError{Model: opts.ModelName, Err: err}
	}
	defer os.RemoveAll(tmpDir)

	log.Infof("Generating archive %s, this may take a few minutes", name)

	tmpPath := filepath.Join(tmpDir, name)
	size, dgst, err := writeArchive(tmpPath, opts, files)
	if err != nil {
		return nil, &PackagingError{Model: opts.ModelName, Err: err}
	}

	finalPath := filepath.Join(opts.OutputDir, name)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return nil, &PackagingError{Model: opts.ModelName, Err: fmt.Errorf("move archive into place: %w", err)}
	}

	log.Infof("Archive %s generated (%s)", name, units.HumanSize(float64(size)))
	return &Artifact{
		ModelName: opts.ModelName,
		Version:   opts.Version,
		Path:      finalPath,
		Size:      size,
		Digest:    dgst,
	}, nil
}

// writeArchive writes the zip archive and returns its size and digest.
func writeArchive(path string, opts Options, files []string) (int64, digest.Digest, error) {
	out, err := os.Create(path)
	if err != nil {
		return 0, "", fmt.Errorf("create archive: %w", err)
	}
	digester := digest.Canonical.Digester()
	counter := &countingWriter{w: io.MultiWriter(out, digester.Hash())}
	zw := zip.NewWriter(counter)

	weightsDigest, err := digestFiles(opts.ModelDir, files)
	if err != nil {
		zw.Close()
		out.Close()
		return 0, "", err
	}

	for _, file := range files {
		if err := addFile(zw, filepath.Join(opts.ModelDir, filepath.FromSlash(file)), file); err != nil {
			zw.Close()
			out.Close()
			return 0, "", err
		}
	}
	if err := addFile(zw, opts.HandlerPath, filepath.Base(opts.HandlerPath)); err != nil {
		zw.Close()
		out.Close()
		return 0, "", err
	}

	m := manifest{
		CreatedOn:       time.Now().UTC().Format(time.RFC3339),
		Runtime:         "python",
		ArchiverVersion: archiverVersion,
		Model: manifestModel{
			ModelName:     opts.ModelName,
			ModelVersion:  manifestVersion(opts.Version),
			Handler:       filepath.Base(opts.HandlerPath),
			WeightsDigest: weightsDigest.String(),
		},
	}
	manifestData, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		zw.Close()
		out.Close()
		return 0, "", err
	}
	mw, err := zw.Create(manifestPath)
	if err != nil {
		zw.Close()
		out.Close()
		return 0, "", fmt.Errorf("write manifest: %w", err)
	}
	if _, err := mw.Write(manifestData); err != nil {
		zw.Close()
		out.Close()
		return 0, "", fmt.Errorf("write manifest: %w", err)
	}

	if err := zw.Close(); err != nil {
		out.Close()
		return 0, "", fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil {
		return 0, "", fmt.Errorf("close archive: %w", err)
	}
	return counter.n, digester.Digest(), nil
}

func manifestVersion(version string) string {
	if version == "" {
		return "1.0"
	}
	return version
}

// collectModelFiles lists all regular files under modelDir as slash-separated
// relative paths.
func collectModelFiles(modelDir string) ([]string, error) {
	info, err := os.Stat(modelDir)
	if err != nil {
		return nil, fmt.Errorf("model directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("model path is not a directory: %s", modelDir)
	}
	var files []string
	err = filepath.Walk(modelDir, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		// Symlinks are skipped; the runtime extracts archives without
		// following links.
		if fi.Mode()&os.ModeSymlink != 0 || fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(modelDir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk model directory: %w", err)
	}
	return files, nil
}

// validateWeights checks that the directory holds at least one weight file
// and parses safetensors headers when present.
func validateWeights(log logging.Logger, modelDir string, files []string) error {
	haveWeights := false
	for _, file := range files {
		for _, suffix := range weightSuffixes {
			if strings.HasSuffix(file, suffix) {
				haveWeights = true
			}
		}
		if strings.HasSuffix(file, ".safetensors") {
			header, err := ParseSafetensorsHeader(filepath.Join(modelDir, filepath.FromSlash(file)))
			if err != nil {
				return fmt.Errorf("invalid safetensors file %s: %w", file, err)
			}
			log.Infof("Validated %s: %s parameters, dtype %s",
				file, formatParameters(header.Parameters()), header.Quantization())
		}
	}
	if !haveWeights {
		return ErrNoWeights
	}
	return nil
}

// digestFiles computes a combined digest over the weight files, in file-name
// order, so the manifest pins the exact weights that were packaged.
func digestFiles(modelDir string, files []string) (digest.Digest, error) {
	digester := digest.Canonical.Digester()
	for _, file := range files {
		f, err := os.Open(filepath.Join(modelDir, filepath.FromSlash(file)))
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(digester.Hash(), f); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	}
	return digester.Digest(), nil
}

func addFile(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer f.Close()
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s to archive: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("write %s to archive: %w", name, err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
