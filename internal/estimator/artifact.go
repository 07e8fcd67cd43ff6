package estimator

import (
	"encoding/gob"
	"fmt"
	"io"
)

// Model is a fitted estimator. Predict returns one value per input row,
// except for windowed models which return one value per complete window
// (the last len(out) rows of X).
type Model interface {
	Predict(X [][]float64) ([]float64, error)
}

// importancer is implemented by models that can weight their inputs.
type importancer interface {
	importances() []float64
}

// Artifact is everything needed to apply a trained model later.
type Artifact struct {
	Family Family
	Params Params
	Model  Model
	Width  int
	Scaler *Scaler // optional input scaling applied before Model
}

func init() {
	gob.Register(&BaselineParams{})
	gob.Register(&LinearParams{})
	gob.Register(&DecisionTreeParams{})
	gob.Register(&RandomForestParams{})
	gob.Register(&GradientBoostingParams{})
	gob.Register(&ObliviousBoostingParams{})
	gob.Register(&SVRParams{})
	gob.Register(&SequenceParams{})

	gob.Register(&ConstantModel{})
	gob.Register(&LinearModel{})
	gob.Register(&TreeModel{})
	gob.Register(&ForestModel{})
	gob.Register(&BoostedModel{})
	gob.Register(&ObliviousModel{})
	gob.Register(&SVRModel{})
	gob.Register(&RecurrentModel{})
}

// EncodeArtifact writes a binary encoding of a to w.
func EncodeArtifact(w io.Writer, a *Artifact) error {
	if a == nil || a.Model == nil {
		return fmt.Errorf("artifact has no fitted model")
	}
	if err := gob.NewEncoder(w).Encode(a); err != nil {
		return fmt.Errorf("failed to encode artifact: %w", err)
	}
	return nil
}

// DecodeArtifact reads an artifact written by EncodeArtifact.
func DecodeArtifact(r io.Reader) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode artifact: %w", err)
	}
	if a.Model == nil || a.Params == nil {
		return nil, fmt.Errorf("decoded artifact is incomplete")
	}
	if a.Params.Family() != a.Family {
		return nil, fmt.Errorf("artifact family %q does not match params family %q", a.Family, a.Params.Family())
	}
	return &a, nil
}
