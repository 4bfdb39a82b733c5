package dataset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/klauspost/compress/zstd"

	"github.com/ayusman/headnod/internal/features"
	"github.com/ayusman/headnod/internal/sequence"
)

// Artifact file names inside the data directory.
const (
	ArtifactFile = "training_data.json.zst"
	StatsFile    = "extraction_stats.json"
)

// ArtifactFormat identifies the dataset container version.
const ArtifactFormat = "headnod.dataset.v1"

// ErrArtifactMissing is returned when the dataset file does not exist.
var ErrArtifactMissing = errors.New("dataset artifact missing")

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// artifact is the on-disk form: X is the row-major N x L x D tensor.
type artifact struct {
	Format         string            `json:"format"`
	Layout         string            `json:"layout"`
	SequenceLength int               `json:"sequence_length"`
	DescriptorDim  int               `json:"descriptor_dim"`
	LabelMap       map[string]string `json:"label_map"`
	Shape          [3]int            `json:"shape"`
	X              []float64         `json:"X"`
	Y              []int             `json:"y"`
}

// Save writes ds to path as zstd-compressed JSON. The file is replaced atomically.
func Save(path string, ds *Dataset) error {
	n, l, d := len(ds.Examples), ds.SequenceLength, ds.DescriptorDim

	a := artifact{
		Format:         ArtifactFormat,
		Layout:         ds.Layout,
		SequenceLength: l,
		DescriptorDim:  d,
		LabelMap:       make(map[string]string, len(ds.Labels)),
		Shape:          [3]int{n, l, d},
		X:              make([]float64, 0, n*l*d),
		Y:              make([]int, 0, n),
	}
	for idx, name := range ds.Labels {
		a.LabelMap[strconv.Itoa(idx)] = name
	}
	for i, ex := range ds.Examples {
		if err := ex.Sequence.Validate(l, d); err != nil {
			return fmt.Errorf("example %d: %w", i, err)
		}
		for _, frame := range ex.Sequence {
			a.X = append(a.X, frame...)
		}
		a.Y = append(a.Y, ex.Label)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dataset-*")
	if err != nil {
		return fmt.Errorf("create dataset file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("create zstd writer: %w", err)
	}
	if err := json.NewEncoder(enc).Encode(&a); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("encode dataset: %w", err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close dataset file: %w", err)
	}

	return os.Rename(tmp.Name(), path)
}

// Load reads a dataset written by Save and checks it against layout.
func Load(path string, layout features.Layout) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrArtifactMissing, path)
		}
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	var a artifact
	if err := json.NewDecoder(dec).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}

	if a.Format != ArtifactFormat {
		return nil, fmt.Errorf("unsupported dataset format %q", a.Format)
	}
	if err := layout.CheckCompatible(a.Layout, a.DescriptorDim); err != nil {
		return nil, err
	}

	n, l, d := a.Shape[0], a.Shape[1], a.Shape[2]
	if l != a.SequenceLength || d != a.DescriptorDim {
		return nil, fmt.Errorf("dataset shape %v disagrees with sequence_length %d and descriptor_dim %d", a.Shape, a.SequenceLength, a.DescriptorDim)
	}
	if n < 0 || len(a.X) != n*l*d || len(a.Y) != n {
		return nil, fmt.Errorf("dataset shape %v holds %d values and %d labels", a.Shape, len(a.X), len(a.Y))
	}

	labels := make(Labels, len(a.LabelMap))
	for k, name := range a.LabelMap {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("label map key %q: %w", k, err)
		}
		labels[idx] = name
	}
	if err := labels.Validate(); err != nil {
		return nil, err
	}

	ds := &Dataset{
		Layout:         a.Layout,
		SequenceLength: l,
		DescriptorDim:  d,
		Labels:         labels,
		Examples:       make([]Example, n),
	}
	for i := 0; i < n; i++ {
		if _, ok := labels[a.Y[i]]; !ok {
			return nil, fmt.Errorf("example %d has unknown label %d", i, a.Y[i])
		}
		seq := make(sequence.Sequence, l)
		for t := 0; t < l; t++ {
			off := (i*l + t) * d
			seq[t] = append([]float64(nil), a.X[off:off+d]...)
		}
		ds.Examples[i] = Example{Sequence: seq, Label: a.Y[i]}
	}

	return ds, nil
}
