// Package models downloads the per-backend model files expected under
// modelsDir/<backend>/ (spec §6, "Persisted state layout"): the core
// itself never fetches anything at runtime, but ships a standalone
// downloader invoked out-of-band (by a setup command or task runner)
// the way the teacher's own model downloader is invoked from outside
// the transcription hot path.
package models

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/chaz8081/parakeet-core/internal/backend"
	"github.com/chaz8081/parakeet-core/internal/config"
)

const (
	// onnxRepo hosts the NeMo -> ONNX conversion of Parakeet TDT v3,
	// referenced directly by the achetronic-parakeet and exp-stt
	// reference transcribers this backend's tensor names are grounded on.
	onnxRepo = "https://huggingface.co/istupakov/parakeet-tdt-0.6b-v3-onnx"

	// coreMLRepo hosts the CoreML-compiled bundles consumed by the
	// platform-native backend.
	coreMLRepo    = "https://huggingface.co/FluidInference/parakeet-tdt-0.6b-v2-coreml"
	coreMLDirName = "coreml"
)

// onnxFiles are fetched verbatim from onnxRepo into modelsDir/<onnx or
// purego>/, since both backends load the same exported graphs — one
// through cgo ONNX Runtime, the other through the pure-Go runtime.
var onnxFiles = []string{"encoder.onnx", "decoder.onnx", "joint.onnx"}

// coreMLFiles are the .mlmodelc bundles fetched via git sparse-checkout,
// since HuggingFace serves CoreML model directories as LFS trees rather
// than single blobs.
var coreMLFiles = []string{
	"Preprocessor.mlmodelc",
	"Encoder.mlmodelc",
	"Decoder.mlmodelc",
	"JointDecision.mlmodelc",
}

// vocabFileName is downloaded once to modelsDir root and shared by every
// backend; each backend's LoadModels only ever touches its own model
// graphs, never the vocabulary (spec §4.1, §4.10).
const vocabFileName = "vocab.json"

// DownloadBackend fetches the model files for one backend into
// modelsDir/<id>/, skipping files that already exist.
func DownloadBackend(id backend.ID, modelsDir string) error {
	switch id {
	case backend.ONNX, backend.Purego:
		return downloadONNXFiles(modelsDir, string(id))
	case backend.CoreML:
		return downloadCoreML(modelsDir)
	default:
		return fmt.Errorf("models: unknown backend %q", id)
	}
}

// DownloadVocabulary fetches the shared sub-word vocabulary to
// modelsDir/vocab.json.
func DownloadVocabulary(modelsDir string) error {
	destPath := filepath.Join(modelsDir, vocabFileName)
	if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
		fmt.Printf("  Vocabulary already exists: %s\n", destPath)
		return nil
	}

	url := onnxRepo + "/resolve/main/" + vocabFileName
	return downloadFile(url, destPath, vocabFileName)
}

func downloadONNXFiles(modelsDir, backendDirName string) error {
	destDir := filepath.Join(modelsDir, backendDirName)
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating models dir: %w", err)
	}

	for _, name := range onnxFiles {
		destPath := filepath.Join(destDir, name)
		if info, err := os.Stat(destPath); err == nil && info.Size() > 0 {
			fmt.Printf("  %s already exists: %s\n", name, destPath)
			continue
		}
		url := onnxRepo + "/resolve/main/" + name
		if err := downloadFile(url, destPath, name); err != nil {
			return fmt.Errorf("downloading %s: %w", name, err)
		}
	}
	return nil
}

func downloadFile(url, destPath, label string) error {
	fmt.Printf("  Downloading %s from HuggingFace...\n", label)
	fmt.Printf("  URL: %s\n", url)
	fmt.Printf("  Destination: %s\n", destPath)

	resp, err := http.Get(url) //nolint:gosec // URL is assembled from a compile-time constant
	if err != nil {
		return fmt.Errorf("downloading %s: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	pr := &progressWriter{writer: f, total: resp.ContentLength, label: label}
	written, err := io.Copy(pr, resp.Body)
	f.Close()
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing model file: %w", err)
	}
	fmt.Printf("\n  Downloaded %.1f MB\n", float64(written)/(1024*1024))

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving model file: %w", err)
	}
	return nil
}

// downloadCoreML clones the CoreML repo's .mlmodelc bundles via git
// sparse-checkout + LFS, matching the teacher's original parakeet
// downloader (git is required since HuggingFace serves these as LFS
// directory trees, not single blobs an http.Get can fetch).
func downloadCoreML(modelsDir string) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git is required for coreml model download but not found in PATH")
	}
	if err := checkGitLFS(); err != nil {
		return fmt.Errorf("git-lfs is required for coreml model download: %w", err)
	}

	destDir := filepath.Join(modelsDir, coreMLDirName)
	encoderPath := filepath.Join(destDir, "Encoder.mlmodelc")
	if _, err := os.Stat(encoderPath); err == nil {
		fmt.Printf("  CoreML models already exist: %s\n", destDir)
		return nil
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return fmt.Errorf("creating models dir: %w", err)
	}

	fmt.Printf("  Downloading CoreML models from HuggingFace...\n")
	fmt.Printf("  Repo: %s\n", coreMLRepo)
	fmt.Printf("  Destination: %s\n", destDir)
	fmt.Printf("  This may take a few minutes (CoreML models are large).\n")

	tmpDir, err := os.MkdirTemp("", "parakeet-coreml-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	sparseArgs := append([]string{"sparse-checkout", "set"}, coreMLFiles...)
	cmds := []struct {
		name string
		args []string
		dir  string
	}{
		{"Cloning (sparse)...", []string{"git", "clone", "--filter=blob:none", "--no-checkout", coreMLRepo, tmpDir}, ""},
		{"Setting sparse-checkout...", append([]string{"git"}, sparseArgs...), tmpDir},
		{"Checking out...", []string{"git", "checkout"}, tmpDir},
		{"Pulling LFS objects...", []string{"git", "lfs", "pull"}, tmpDir},
	}

	for _, c := range cmds {
		fmt.Printf("  %s\n", c.name)
		cmd := exec.Command(c.args[0], c.args[1:]...) //nolint:gosec // args are compile-time constants
		if c.dir != "" {
			cmd.Dir = c.dir
		}
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}

	fmt.Printf("  Copying models to %s...\n", destDir)
	for _, name := range coreMLFiles {
		src := filepath.Join(tmpDir, name)
		dst := filepath.Join(destDir, name)
		if err := copyFileOrDir(src, dst); err != nil {
			return fmt.Errorf("copying %s: %w", name, err)
		}
	}

	fmt.Printf("  CoreML models installed successfully.\n")
	return nil
}

func checkGitLFS() error {
	cmd := exec.Command("git", "lfs", "version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git-lfs not found: install with 'brew install git-lfs && git lfs install'")
	}
	return nil
}

func copyFileOrDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyDir(src, dst)
	}
	return copyFile(src, dst)
}

func copyDir(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		srcPath := filepath.Join(src, entry.Name())
		dstPath := filepath.Join(dst, entry.Name())
		if err := copyFileOrDir(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

// progressWriter wraps an io.Writer and prints download progress.
type progressWriter struct {
	writer  io.Writer
	total   int64
	written int64
	label   string
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n, err := pw.writer.Write(p)
	pw.written += int64(n)
	if pw.total > 0 {
		pct := float64(pw.written) / float64(pw.total) * 100
		fmt.Printf("\r  %s: %.1f MB / %.1f MB (%.0f%%)",
			pw.label,
			float64(pw.written)/(1024*1024),
			float64(pw.total)/(1024*1024),
			pct)
	} else {
		fmt.Printf("\r  %s: %.1f MB downloaded",
			pw.label,
			float64(pw.written)/(1024*1024))
	}
	return n, err
}

// RunInteractiveDownload prompts for a backend and downloads its models
// plus the shared vocabulary.
func RunInteractiveDownload() error {
	modelsDir := config.DefaultModelsDir()

	fmt.Println("=== Model Download ===")
	fmt.Println()
	fmt.Printf("Models will be downloaded to: %s\n", modelsDir)
	fmt.Println()
	fmt.Println("Which backend would you like to download models for?")
	fmt.Println("  [1] onnx    - cgo ONNX Runtime (CPU/GPU)")
	fmt.Println("  [2] purego  - pure-Go ONNX Runtime (no cgo)")
	fmt.Println("  [3] coreml  - Apple Neural Engine (macOS only)")
	fmt.Println()
	fmt.Print("Choice [1/2/3]: ")

	var choice string
	fmt.Scanln(&choice)
	choice = strings.TrimSpace(choice)
	fmt.Println()

	var id backend.ID
	switch choice {
	case "1":
		id = backend.ONNX
	case "2":
		id = backend.Purego
	case "3":
		id = backend.CoreML
	default:
		return fmt.Errorf("unrecognized choice %q", choice)
	}

	if err := DownloadVocabulary(modelsDir); err != nil {
		return err
	}
	return DownloadBackend(id, modelsDir)
}
