package dataset

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// SplitIndices shuffles 0..n-1 with seed and returns the train and test
// index sets. The test set gets ceil(n*testRatio) rows and both sets are
// non-empty.
func SplitIndices(n int, testRatio float64, seed int64) (train, test []int, err error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, errors.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	nTest := int(math.Ceil(float64(n) * testRatio))
	if n < 2 || nTest >= n {
		return nil, nil, errors.Errorf("cannot split %d rows with test ratio %v", n, testRatio)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(n)
	return perm[nTest:], perm[:nTest], nil
}

// SplitTrainTest splits paired features and targets into train and test
// sets. See SplitIndices.
func SplitTrainTest(x [][]float64, y []float64, testRatio float64, seed int64) (xTrain, xTest [][]float64, yTrain, yTest []float64, err error) {
	if len(x) != len(y) {
		return nil, nil, nil, nil, errors.Errorf("%d feature rows against %d targets", len(x), len(y))
	}
	train, test, err := SplitIndices(len(x), testRatio, seed)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	xTrain, yTrain = gather(x, y, train)
	xTest, yTest = gather(x, y, test)
	return xTrain, xTest, yTrain, yTest, nil
}

func gather(x [][]float64, y []float64, idx []int) ([][]float64, []float64) {
	gx := make([][]float64, len(idx))
	gy := make([]float64, len(idx))
	for i, j := range idx {
		gx[i] = x[j]
		gy[i] = y[j]
	}
	return gx, gy
}
