package model

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"
)

// Artifact file names inside the model directory.
const (
	WeightsFile  = "gesture_classifier.json"
	MetadataFile = "model_info.json"
)

// WeightsFormat identifies the weights file version.
const WeightsFormat = "headnod.model.v1"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type tensor struct {
	Name  string    `json:"name"`
	Shape [2]int    `json:"shape"`
	Data  []float64 `json:"data"`
}

type weightsFile struct {
	Format        string       `json:"format"`
	Architecture  Architecture `json:"architecture"`
	Normalization struct {
		Mean []float64 `json:"mean"`
		Std  []float64 `json:"std"`
	} `json:"normalization"`
	Params []tensor `json:"params"`
}

// SaveArtifact writes the weights and metadata of m into dir. The metadata
// records the SHA-256 of the weights file.
func SaveArtifact(dir string, m *Model) error {
	wf := weightsFile{
		Format:       WeightsFormat,
		Architecture: m.net.arch,
	}
	wf.Normalization.Mean = m.net.mean
	wf.Normalization.Std = m.net.std
	for _, p := range m.net.params() {
		wf.Params = append(wf.Params, tensor{Name: p.name, Shape: [2]int{p.rows, p.cols}, Data: p.w})
	}

	weights, err := json.Marshal(&wf)
	if err != nil {
		return fmt.Errorf("encode weights: %w", err)
	}
	sum := sha256.Sum256(weights)

	meta := m.Metadata()
	meta.WeightsSHA256 = hex.EncodeToString(sum[:])
	info, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, WeightsFile), weights); err != nil {
		return err
	}
	if err := writeAtomic(filepath.Join(dir, MetadataFile), info); err != nil {
		return err
	}
	m.meta.WeightsSHA256 = meta.WeightsSHA256
	return nil
}

// LoadArtifact reads a model written by SaveArtifact.
func LoadArtifact(dir string) (*Model, error) {
	weights, err := readArtifact(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, err
	}
	info, err := readArtifact(filepath.Join(dir, MetadataFile))
	if err != nil {
		return nil, err
	}

	var meta Metadata
	if err := json.Unmarshal(info, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	sum := sha256.Sum256(weights)
	if got := hex.EncodeToString(sum[:]); got != meta.WeightsSHA256 {
		return nil, fmt.Errorf("%w: weights checksum %s, metadata records %s", ErrSchemaMismatch, got, meta.WeightsSHA256)
	}

	var wf weightsFile
	if err := json.Unmarshal(weights, &wf); err != nil {
		return nil, fmt.Errorf("decode weights: %w", err)
	}
	if wf.Format != WeightsFormat {
		return nil, fmt.Errorf("%w: unsupported weights format %q", ErrSchemaMismatch, wf.Format)
	}

	net, err := NewNetwork(wf.Architecture, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaMismatch, err)
	}
	if len(wf.Normalization.Mean) != wf.Architecture.InputDim || len(wf.Normalization.Std) != wf.Architecture.InputDim {
		return nil, fmt.Errorf("%w: normalization does not match input dim %d", ErrSchemaMismatch, wf.Architecture.InputDim)
	}
	copy(net.mean, wf.Normalization.Mean)
	copy(net.std, wf.Normalization.Std)

	params := net.params()
	if len(wf.Params) != len(params) {
		return nil, fmt.Errorf("%w: %d parameter tensors, architecture needs %d", ErrSchemaMismatch, len(wf.Params), len(params))
	}
	for i, p := range params {
		t := wf.Params[i]
		if t.Name != p.name || t.Shape != [2]int{p.rows, p.cols} || len(t.Data) != len(p.w) {
			return nil, fmt.Errorf("%w: tensor %q %v does not match %q %v", ErrSchemaMismatch, t.Name, t.Shape, p.name, [2]int{p.rows, p.cols})
		}
		copy(p.w, t.Data)
	}

	m := &Model{net: net, meta: meta}
	if err := m.checkMetadata(); err != nil {
		return nil, err
	}
	return m, nil
}

func readArtifact(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return nil, err
	}
	return data, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".model-*")
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	return os.Rename(tmp.Name(), path)
}
