package txpool

import (
	"github.com/mwforge/chainstate/consensus"
	"github.com/mwforge/chainstate/cryptoadapt"
)

// aggregate merges entries' transactions into one, summing kernel offsets,
// concatenating inputs/outputs/kernels, then cutting through any commitment
// that appears as both an output and an input across the merged set (§4.5
// Cut-through on aggregation).
func aggregate(entries []*Entry) (consensus.Transaction, error) {
	var merged consensus.Body
	offset := consensus.Scalar{}
	offsetSet := false

	for _, e := range entries {
		merged.Inputs = append(merged.Inputs, e.Tx.Body.Inputs...)
		merged.Outputs = append(merged.Outputs, e.Tx.Body.Outputs...)
		merged.Kernels = append(merged.Kernels, e.Tx.Body.Kernels...)

		var err error
		offset, err = sumOffsets(offset, offsetSet, e.Tx.Offset)
		if err != nil {
			return consensus.Transaction{}, err
		}
		offsetSet = true
	}

	cutInputs, cutOutputs := cutThrough(merged.Inputs, merged.Outputs)
	merged.Inputs = cutInputs
	merged.Outputs = cutOutputs

	tx := consensus.Transaction{Offset: offset, Body: merged}
	tx.Sort()
	return tx, nil
}

// cutThrough removes any commitment present in both outputs and inputs: one
// transaction's output spent by another's input cancels within the
// aggregate (§4.5, GLOSSARY Cut-through).
func cutThrough(inputs consensus.InputList, outputs consensus.OutputList) (consensus.InputList, consensus.OutputList) {
	outputByCommitment := make(map[consensus.Commitment]int, len(outputs))
	for i, o := range outputs {
		outputByCommitment[o.Commitment] = i
	}

	cancelled := make(map[consensus.Commitment]struct{})
	for _, in := range inputs {
		if _, ok := outputByCommitment[in.Commitment]; ok {
			cancelled[in.Commitment] = struct{}{}
		}
	}
	if len(cancelled) == 0 {
		return inputs, outputs
	}

	keptInputs := make(consensus.InputList, 0, len(inputs))
	for _, in := range inputs {
		if _, cut := cancelled[in.Commitment]; !cut {
			keptInputs = append(keptInputs, in)
		}
	}
	keptOutputs := make(consensus.OutputList, 0, len(outputs))
	for _, o := range outputs {
		if _, cut := cancelled[o.Commitment]; !cut {
			keptOutputs = append(keptOutputs, o)
		}
	}
	return keptInputs, keptOutputs
}

// sumOffsets folds an additional transaction offset into the running
// aggregate offset by scalar addition modulo the secp256k1 curve order
// (cryptoadapt.SumScalars).
func sumOffsets(running consensus.Scalar, runningSet bool, next consensus.Scalar) (consensus.Scalar, error) {
	if !runningSet {
		return next, nil
	}
	sum, err := cryptoadapt.SumScalars(running, next)
	if err != nil {
		return consensus.Scalar{}, err
	}
	return sum, nil
}
