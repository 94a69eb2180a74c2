package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// ErrStratifyInfeasible means the labels cannot be spread over both sides
// of the split.
var ErrStratifyInfeasible = errors.New("stratified split infeasible")

// SplitSizes returns the train/test row counts for n rows. The test side is
// rounded up.
func SplitSizes(n int, testRatio float64) (int, int) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}
	nTest := int(math.Ceil(testRatio * float64(n)))
	return n - nTest, nTest
}

// StratifiedSplit returns train and test row indices that preserve the class
// proportions of labels. It fails with ErrStratifyInfeasible when a class has
// fewer than two members or either side would hold fewer rows than there are
// classes.
func StratifiedSplit(labels []int, testRatio float64, seed int64) (train, test []int, err error) {
	n := len(labels)
	nTrain, nTest := SplitSizes(n, testRatio)

	byClass := make(map[int][]int)
	for i, label := range labels {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for class, members := range byClass {
		if len(members) < 2 {
			return nil, nil, fmt.Errorf("%w: class %d has %d member", ErrStratifyInfeasible, class, len(members))
		}
		classes = append(classes, class)
	}
	sort.Ints(classes)
	if nTrain < len(classes) || nTest < len(classes) {
		return nil, nil, fmt.Errorf("%w: %d classes for %d train / %d test rows", ErrStratifyInfeasible, len(classes), nTrain, nTest)
	}

	// Largest-remainder allocation of test rows per class, at least one each.
	alloc := make([]int, len(classes))
	remainders := make([]float64, len(classes))
	assigned := 0
	for i, class := range classes {
		exact := float64(len(byClass[class])) * float64(nTest) / float64(n)
		alloc[i] = int(math.Floor(exact))
		if alloc[i] < 1 {
			alloc[i] = 1
		}
		if alloc[i] > len(byClass[class])-1 {
			alloc[i] = len(byClass[class]) - 1
		}
		remainders[i] = exact - math.Floor(exact)
		assigned += alloc[i]
	}
	order := make([]int, len(classes))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return remainders[order[a]] > remainders[order[b]] })
	for assigned < nTest {
		progressed := false
		for _, i := range order {
			if assigned == nTest {
				break
			}
			if alloc[i] < len(byClass[classes[i]])-1 {
				alloc[i]++
				assigned++
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	for assigned > nTest {
		progressed := false
		for j := len(order) - 1; j >= 0; j-- {
			i := order[j]
			if assigned == nTest {
				break
			}
			if alloc[i] > 1 {
				alloc[i]--
				assigned--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	rnd := rand.New(rand.NewSource(seed))
	for i, class := range classes {
		members := append([]int(nil), byClass[class]...)
		rnd.Shuffle(len(members), func(a, b int) { members[a], members[b] = members[b], members[a] })
		test = append(test, members[:alloc[i]]...)
		train = append(train, members[alloc[i]:]...)
	}
	rnd.Shuffle(len(train), func(a, b int) { train[a], train[b] = train[b], train[a] })
	rnd.Shuffle(len(test), func(a, b int) { test[a], test[b] = test[b], test[a] })
	return train, test, nil
}

// RandomSplit shuffles the rows with seed and cuts them into train and test.
func RandomSplit(n int, testRatio float64, seed int64) (train, test []int) {
	nTrain, _ := SplitSizes(n, testRatio)
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)
	return indices[:nTrain], indices[nTrain:]
}

// Select gathers the given rows.
func Select(features [][]float64, labels []int, indices []int) ([][]float64, []int) {
	x := make([][]float64, len(indices))
	y := make([]int, len(indices))
	for i, idx := range indices {
		x[i] = features[idx]
		y[i] = labels[idx]
	}
	return x, y
}
