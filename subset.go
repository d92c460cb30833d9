package surrogate

//////
// Outcome subsetting.
//////

// SubsetModelResults carries the outcome of restricting a multi-output model
// to the outcomes a generation round actually needs: the (possibly reduced)
// model plus correspondingly reduced objective weights and outcome
// constraints, and the retained outcome indices.
type SubsetModelResults struct {
	Model              Model
	ObjectiveWeights   *Tensor
	OutcomeConstraints *OutcomeConstraints
	Indices            []int
}

// subsetModel restricts model to the outcomes referenced by a nonzero
// objective weight or outcome-constraint column. Subsetting cuts acquisition
// evaluation cost and removes numerical noise contributed by irrelevant
// outcomes.
//
// The inputs are returned unchanged when every outcome is needed or when the
// model does not support subsetting.
func subsetModel(
	model Model,
	objectiveWeights *Tensor,
	outcomeConstraints *OutcomeConstraints,
) (SubsetModelResults, error) {
	full := SubsetModelResults{
		Model:              model,
		ObjectiveWeights:   objectiveWeights,
		OutcomeConstraints: outcomeConstraints,
	}

	m := model.NumOutputs()

	full.Indices = make([]int, m)
	for i := range full.Indices {
		full.Indices[i] = i
	}

	idcs := relevantOutcomes(m, objectiveWeights, outcomeConstraints)
	if len(idcs) == 0 || len(idcs) == m {
		return full, nil
	}

	sub, ok := model.(SubsetModel)
	if !ok {
		return full, nil
	}

	reduced, err := sub.Subset(idcs)
	if err != nil {
		return SubsetModelResults{}, err
	}

	out := SubsetModelResults{Model: reduced, Indices: idcs}

	if objectiveWeights != nil {
		w := Zeros(len(idcs)).To(objectiveWeights.Dtype(), objectiveWeights.Device())
		for i, ix := range idcs {
			w.Set(objectiveWeights.Data()[ix], i)
		}

		out.ObjectiveWeights = w
	}

	if outcomeConstraints != nil {
		k := outcomeConstraints.A.Size(0)

		a := Zeros(k, len(idcs)).To(outcomeConstraints.A.Dtype(), outcomeConstraints.A.Device())
		for r := 0; r < k; r++ {
			for i, ix := range idcs {
				a.Set(outcomeConstraints.A.At(r, ix), r, i)
			}
		}

		out.OutcomeConstraints = &OutcomeConstraints{A: a, B: outcomeConstraints.B.Clone()}
	}

	return out, nil
}
