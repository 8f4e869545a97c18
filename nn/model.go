package nn

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	sync "github.com/sasha-s/go-deadlock"
)

// Model is a compiled, runnable network: an ordered sequence of executable
// layers plus a fixed input shape. A model is owned by exactly one
// execution context at a time; migration moves its weights, never the
// model itself.
type Model struct {
	// layers share forward/backward buffers, so every pass through them
	// must hold mu. Training holds it for a full epoch; a concurrent
	// prediction waits for the epoch boundary.
	mu sync.Mutex

	inputShape []int
	layers     []Layer
	opt        *SGD
	backend    Backend
	compiled   bool
}

func (m *Model) InputShape() []int { return m.inputShape }

func (m *Model) OutputShape() []int {
	if len(m.layers) == 0 {
		return m.inputShape
	}
	return m.layers[len(m.layers)-1].OutShape()
}

func (m *Model) Layers() []Layer { return m.layers }

// Compile binds the optimizer and compute backend. Recompiling with a new
// learning rate is cheap; it never rebuilds layers.
func (m *Model) Compile(learningRate float64, backend Backend) {
	m.opt = &SGD{LearningRate: learningRate}
	m.backend = backend
	for _, layer := range m.layers {
		if user, ok := layer.(interface{ setBackend(Backend) }); ok {
			user.setBackend(backend)
		}
	}
	m.compiled = true
}

func (m *Model) SetLearningRate(learningRate float64) {
	if m.opt != nil {
		m.opt.LearningRate = learningRate
	}
}

func (m *Model) LearningRate() float64 {
	if m.opt == nil {
		return 0
	}
	return m.opt.LearningRate
}

func (m *Model) paramTensors() []Param {
	var params []Param
	for _, layer := range m.layers {
		params = append(params, layer.Params()...)
	}
	return params
}

func (m *Model) gradTensors() []Param {
	var grads []Param
	for _, layer := range m.layers {
		grads = append(grads, layer.Grads()...)
	}
	return grads
}

func (m *Model) forward(x []float32, train bool) []float32 {
	curr := x
	for _, layer := range m.layers {
		curr = layer.Forward(curr, train)
	}
	return curr
}

func (m *Model) backward(grad []float32) {
	curr := grad
	for i := len(m.layers) - 1; i >= 0; i-- {
		curr = m.layers[i].Backward(curr)
	}
}

func (m *Model) checkInput(x []float32) error {
	if want := NumElems(m.inputShape); len(x) != want {
		return errors.Errorf("input has %d values, model wants %d (shape %v)", len(x), want, m.inputShape)
	}
	return nil
}

// Predict runs one fixed-shape normalized input through the model and
// returns a confidence in [0,1] plus the derived binary label.
func (m *Model) Predict(x []float32) (float32, int, error) {
	if !m.compiled {
		return 0, 0, errors.Errorf("model is not compiled")
	}
	if err := m.checkInput(x); err != nil {
		return 0, 0, err
	}
	m.mu.Lock()
	out := m.forward(x, false)
	conf := out[0]
	m.mu.Unlock()
	label := 0
	if conf >= 0.5 {
		label = 1
	}
	return conf, label, nil
}

// TrainSample runs one forward/backward/update cycle on a single example.
func (m *Model) TrainSample(x []float32, label float32) (float64, error) {
	if err := m.checkInput(x); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	zeroGrads(m.gradTensors())
	out := m.forward(x, true)
	loss := bceLoss(out[0], label)
	m.backward([]float32{bceGrad(out[0], label)})
	m.opt.Step(m.paramTensors(), m.gradTensors())
	return loss, nil
}

// TrainEpoch runs one full pass over the dataset with mini-batch gradient
// accumulation, returning mean loss and accuracy. A non-finite loss is a
// numerical failure and aborts the epoch.
func (m *Model) TrainEpoch(inputs [][]float32, labels []float32, batchSize int) (float64, float64, error) {
	if !m.compiled {
		return 0, 0, errors.Errorf("model is not compiled")
	}
	if len(inputs) == 0 {
		return 0, 0, errors.Errorf("empty dataset")
	}
	if batchSize <= 0 {
		batchSize = len(inputs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	order := rand.Perm(len(inputs))
	var totalLoss float64
	correct := 0

	for start := 0; start < len(order); start += batchSize {
		end := start + batchSize
		if end > len(order) {
			end = len(order)
		}
		zeroGrads(m.gradTensors())
		for _, idx := range order[start:end] {
			x := inputs[idx]
			if err := m.checkInput(x); err != nil {
				return 0, 0, err
			}
			out := m.forward(x, true)
			loss := bceLoss(out[0], labels[idx])
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return 0, 0, errors.Errorf("non-finite loss at sample %d", idx)
			}
			totalLoss += loss
			if (out[0] >= 0.5) == (labels[idx] >= 0.5) {
				correct++
			}
			m.backward([]float32{bceGrad(out[0], labels[idx])})
		}
		// average accumulated gradients over the batch
		n := float32(end - start)
		for _, g := range m.gradTensors() {
			for i := range g.Data {
				g.Data[i] /= n
			}
		}
		m.opt.Step(m.paramTensors(), m.gradTensors())
	}

	return totalLoss / float64(len(inputs)), float64(correct) / float64(len(inputs)), nil
}

func zeroGrads(grads []Param) {
	for _, g := range grads {
		for i := range g.Data {
			g.Data[i] = 0
		}
	}
}
