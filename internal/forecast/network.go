package forecast

import (
	"encoding/json"
	"math"
	"math/rand/v2"
)

// dense is a fully-connected layer with Adam moments and backprop caches.
type dense struct {
	W [][]float64 // [out][in]
	B []float64

	mW, vW [][]float64
	mB, vB []float64
	gW     [][]float64
	gB     []float64
	in     []float64
	out    []float64
}

// network is a feed-forward regressor: ReLU hidden layers, linear output.
type network struct {
	layers []dense
}

// trainConfig holds optimizer settings for network.train.
type trainConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	BatchSize    int
	Epochs       int
	// Patience stops training after this many epochs without validation
	// improvement. Zero disables early stopping.
	Patience int
}

func newTrainConfig(lr float64, batch, epochs, patience int) trainConfig {
	return trainConfig{
		LearningRate: lr,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		BatchSize:    batch,
		Epochs:       epochs,
		Patience:     patience,
	}
}

// trainResult records per-epoch losses and where training stopped.
type trainResult struct {
	TrainLoss []float64
	ValLoss   []float64
	BestEpoch int
}

// newNetwork builds a network with He-initialized weights. sizes lists the
// width of every layer including input and output, e.g. [100, 64, 64, 1].
func newNetwork(sizes []int, rng *rand.Rand) *network {
	n := &network{layers: make([]dense, len(sizes)-1)}
	for i := range n.layers {
		in, out := sizes[i], sizes[i+1]
		std := math.Sqrt(2.0 / float64(in))
		l := dense{W: matrix(out, in), B: make([]float64, out)}
		for j := range l.W {
			for k := range l.W[j] {
				l.W[j][k] = rng.NormFloat64() * std
			}
		}
		n.layers[i] = l
	}
	n.resetOptimizer()
	return n
}

func (n *network) resetOptimizer() {
	for i := range n.layers {
		l := &n.layers[i]
		out, in := len(l.W), len(l.W[0])
		l.mW, l.vW, l.gW = matrix(out, in), matrix(out, in), matrix(out, in)
		l.mB, l.vB, l.gB = make([]float64, out), make([]float64, out), make([]float64, out)
	}
}

func (n *network) inputSize() int {
	if len(n.layers) == 0 || len(n.layers[0].W) == 0 {
		return 0
	}
	return len(n.layers[0].W[0])
}

func (n *network) forward(x []float64) []float64 {
	last := len(n.layers) - 1
	for i := range n.layers {
		l := &n.layers[i]
		l.in = x
		y := make([]float64, len(l.W))
		for j, row := range l.W {
			sum := l.B[j]
			for k, w := range row {
				sum += w * x[k]
			}
			if i < last && sum < 0 {
				sum = 0
			}
			y[j] = sum
		}
		l.out = y
		x = y
	}
	return x
}

// predict runs a forward pass and returns the scalar output.
func (n *network) predict(x []float64) float64 {
	return n.forward(x)[0]
}

func (n *network) backward(grad []float64) {
	last := len(n.layers) - 1
	for i := last; i >= 0; i-- {
		l := &n.layers[i]
		if i < last {
			for j := range grad {
				if l.out[j] <= 0 {
					grad[j] = 0
				}
			}
		}
		for j, g := range grad {
			l.gB[j] += g
			for k, x := range l.in {
				l.gW[j][k] += g * x
			}
		}
		if i == 0 {
			return
		}
		prev := make([]float64, len(l.in))
		for j, g := range grad {
			for k, w := range l.W[j] {
				prev[k] += g * w
			}
		}
		grad = prev
	}
}

func (n *network) zeroGrad() {
	for i := range n.layers {
		l := &n.layers[i]
		for j := range l.gW {
			clear(l.gW[j])
		}
		clear(l.gB)
	}
}

func (n *network) adamStep(cfg trainConfig, step int) {
	c1 := 1 - math.Pow(cfg.Beta1, float64(step))
	c2 := 1 - math.Pow(cfg.Beta2, float64(step))
	update := func(p, m, v *float64, g float64) {
		*m = cfg.Beta1**m + (1-cfg.Beta1)*g
		*v = cfg.Beta2**v + (1-cfg.Beta2)*g*g
		*p -= cfg.LearningRate * (*m / c1) / (math.Sqrt(*v/c2) + cfg.Epsilon)
	}
	for i := range n.layers {
		l := &n.layers[i]
		for j := range l.W {
			for k := range l.W[j] {
				update(&l.W[j][k], &l.mW[j][k], &l.vW[j][k], l.gW[j][k])
			}
			update(&l.B[j], &l.mB[j], &l.vB[j], l.gB[j])
		}
	}
}

// train runs shuffled mini-batch Adam on MSE loss. With validation data and
// a positive patience it stops early and restores the best weights seen.
func (n *network) train(trainX [][]float64, trainY []float64, valX [][]float64, valY []float64, cfg trainConfig, rng *rand.Rand) trainResult {
	idx := make([]int, len(trainX))
	for i := range idx {
		idx[i] = i
	}

	res := trainResult{BestEpoch: -1}
	best := math.Inf(1)
	var bestWeights []dense
	stale := 0
	step := 0

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

		for start := 0; start < len(idx); start += cfg.BatchSize {
			end := min(start+cfg.BatchSize, len(idx))
			scale := 2 / float64(end-start)

			n.zeroGrad()
			for _, b := range idx[start:end] {
				out := n.forward(trainX[b])
				n.backward([]float64{scale * (out[0] - trainY[b])})
			}
			step++
			n.adamStep(cfg, step)
		}

		res.TrainLoss = append(res.TrainLoss, n.mse(trainX, trainY))
		if len(valX) == 0 {
			res.BestEpoch = epoch
			continue
		}

		loss := n.mse(valX, valY)
		res.ValLoss = append(res.ValLoss, loss)
		if loss < best {
			best = loss
			res.BestEpoch = epoch
			bestWeights = n.snapshot()
			stale = 0
			continue
		}
		stale++
		if cfg.Patience > 0 && stale >= cfg.Patience {
			break
		}
	}

	if bestWeights != nil {
		n.restore(bestWeights)
	}
	return res
}

func (n *network) mse(X [][]float64, Y []float64) float64 {
	if len(X) == 0 {
		return 0
	}
	sum := 0.0
	for i := range X {
		d := n.predict(X[i]) - Y[i]
		sum += d * d
	}
	return sum / float64(len(X))
}

func (n *network) snapshot() []dense {
	out := make([]dense, len(n.layers))
	for i, l := range n.layers {
		out[i] = dense{W: matrix(len(l.W), len(l.W[0])), B: append([]float64(nil), l.B...)}
		for j := range l.W {
			copy(out[i].W[j], l.W[j])
		}
	}
	return out
}

func (n *network) restore(saved []dense) {
	for i := range n.layers {
		for j := range n.layers[i].W {
			copy(n.layers[i].W[j], saved[i].W[j])
		}
		copy(n.layers[i].B, saved[i].B)
	}
}

type layerJSON struct {
	Weights [][]float64 `json:"weights"`
	Biases  []float64   `json:"biases"`
}

func (n *network) MarshalJSON() ([]byte, error) {
	layers := make([]layerJSON, len(n.layers))
	for i, l := range n.layers {
		layers[i] = layerJSON{Weights: l.W, Biases: l.B}
	}
	return json.Marshal(struct {
		Layers []layerJSON `json:"layers"`
	}{layers})
}

func (n *network) UnmarshalJSON(data []byte) error {
	var raw struct {
		Layers []layerJSON `json:"layers"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.layers = make([]dense, len(raw.Layers))
	for i, l := range raw.Layers {
		if len(l.Weights) == 0 || len(l.Weights[0]) == 0 || len(l.Biases) != len(l.Weights) {
			return ErrInvalidConfig
		}
		n.layers[i] = dense{W: l.Weights, B: l.Biases}
	}
	if len(n.layers) == 0 {
		return ErrInvalidConfig
	}
	n.resetOptimizer()
	return nil
}

func matrix(rows, cols int) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, cols)
	}
	return m
}
