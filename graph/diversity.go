package graph

// VamanaDiversity prunes candidate neighbor lists so that no accepted
// neighbor is much closer to a candidate (by factor alpha) than the source
// node is. Slots left open by pruning are filled back from the best pruned
// candidates so nodes keep their full degree when candidates exist.
type VamanaDiversity struct {
	provider BuildScoreProvider
	alpha    float32
}

// NewVamanaDiversity creates a diversity provider with relaxation alpha >= 1.
func NewVamanaDiversity(provider BuildScoreProvider, alpha float32) *VamanaDiversity {
	return &VamanaDiversity{provider: provider, alpha: alpha}
}

// Alpha returns the relaxation factor.
func (d *VamanaDiversity) Alpha() float32 { return d.alpha }

// SelectDiverse filters candidates (score-descending vs. node) down to at
// most maxDegree diverse neighbors. candidates must be sorted; feeding an
// unsorted list is a programming error.
func (d *VamanaDiversity) SelectDiverse(node int, candidates *NodeArray, maxDegree int) *NodeArray {
	if candidates.Size() <= maxDegree {
		out := NewNodeArray(maxDegree)
		for i := 0; i < candidates.Size(); i++ {
			if candidates.Node(i) != node {
				out.AddInOrder(candidates.Node(i), candidates.Score(i))
			}
		}
		return out
	}

	selected := NewNodeArray(maxDegree)
	var pruned []int

	for i := 0; i < candidates.Size() && selected.Size() < maxDegree; i++ {
		c := candidates.Node(i)
		score := candidates.Score(i)
		if c == node {
			continue
		}

		sim, err := d.provider.DiversityProviderFor(c)
		if err != nil {
			// Pairwise scoring unavailable; keep by score order.
			selected.AddInOrder(c, score)
			continue
		}

		diverse := true
		for j := 0; j < selected.Size(); j++ {
			if sim(selected.Node(j))*d.alpha > score {
				diverse = false
				break
			}
		}
		if diverse {
			selected.AddInOrder(c, score)
		} else {
			pruned = append(pruned, i)
		}
	}

	// Fill remaining capacity from the best pruned candidates.
	for _, i := range pruned {
		if selected.Size() >= maxDegree {
			break
		}
		selected.InsertSorted(candidates.Node(i), candidates.Score(i))
	}
	return selected
}
