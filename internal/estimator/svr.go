package estimator

import (
	"math"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SVRModel predicts f(x) = sum_i Dual[i] * K(Support[i], x) + Bias.
type SVRModel struct {
	Kernel  string
	Gamma   float64
	Degree  int
	Coef0   float64
	Support [][]float64
	Dual    []float64
	Coef    []float64 // primal weights, linear kernel only
	Bias    float64
}

func (m *SVRModel) kernel(a, b []float64) float64 {
	return evalKernel(m.Kernel, m.Gamma, m.Degree, m.Coef0, a, b)
}

func evalKernel(kind string, gamma float64, degree int, coef0 float64, a, b []float64) float64 {
	switch kind {
	case KernelLinear:
		return floats.Dot(a, b)
	case KernelPoly:
		return math.Pow(gamma*floats.Dot(a, b)+coef0, float64(degree))
	case KernelSigmoid:
		return math.Tanh(gamma*floats.Dot(a, b) + coef0)
	default:
		d := floats.Distance(a, b, 2)
		return math.Exp(-gamma * d * d)
	}
}

// fitSVR solves the epsilon-SVR dual over the 2n variables a = (alpha, alpha*)
//
//	min 0.5 a'Qa + p'a   s.t. s'a = 0,  0 <= a_t <= C
//
// with s_t = +1 for alpha and -1 for alpha*, Q_tu = s_t s_u K(t, u),
// p = eps - y for alpha and eps + y for alpha*. Each step is an SMO update
// of the maximal violating pair (second order selection). The bias is free
// and comes from the KKT conditions once the gap drops below Tol. MaxIter
// bounds the number of passes, one pass being n pair updates.
func fitSVR(p *SVRParams, X [][]float64, y []float64, o *trainOptions) (*SVRModel, error) {
	n, width := len(X), len(X[0])

	gamma := p.Gamma
	if gamma == 0 {
		gamma = scaleGamma(X)
	}

	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			K.SetSym(i, j, evalKernel(p.Kernel, gamma, p.Degree, p.Coef0, X[i], X[j]))
		}
	}

	s := newSMO(K, y, p.Epsilon, p.C)
	limit := p.MaxIter * n
	iter := 0
	converged := false
	for ; iter < limit; iter++ {
		i, j, ok := s.selectPair(p.Tol)
		if !ok {
			converged = true
			break
		}
		s.update(i, j)
		if (iter+1)%(50*n) == 0 {
			o.report(Progress{Family: SVR, Stage: "pass", Step: (iter + 1) / n, Total: p.MaxIter})
		}
	}
	if !converged {
		log.Warn().
			Int("max_iter", p.MaxIter).
			Msg("SVR solver stopped before reaching tolerance")
	}

	m := &SVRModel{
		Kernel: p.Kernel,
		Gamma:  gamma,
		Degree: p.Degree,
		Coef0:  p.Coef0,
		Bias:   -s.rho(),
	}
	for i := 0; i < n; i++ {
		b := s.alpha[i] - s.alpha[i+n]
		if b == 0 {
			continue
		}
		m.Support = append(m.Support, append([]float64(nil), X[i]...))
		m.Dual = append(m.Dual, b)
	}

	if p.Kernel == KernelLinear {
		m.Coef = make([]float64, width)
		for k, sv := range m.Support {
			floats.AddScaled(m.Coef, m.Dual[k], sv)
		}
	}

	log.Debug().
		Int("support_vectors", len(m.Support)).
		Int("iterations", iter).
		Float64("gamma", gamma).
		Float64("bias", m.Bias).
		Msg("SVR fitted")

	return m, nil
}

// tau replaces non-positive curvature in SMO steps.
const tau = 1e-12

// smo is the working state of the epsilon-SVR dual solver.
type smo struct {
	n     int
	k     *mat.SymDense
	c     float64
	alpha []float64
	grad  []float64 // gradient Qa + p
}

func newSMO(k *mat.SymDense, y []float64, eps, c float64) *smo {
	n := len(y)
	s := &smo{
		n:     n,
		k:     k,
		c:     c,
		alpha: make([]float64, 2*n),
		grad:  make([]float64, 2*n),
	}
	// a = 0, so the gradient is p
	for i, v := range y {
		s.grad[i] = eps - v
		s.grad[i+n] = eps + v
	}
	return s
}

func (s *smo) sign(t int) float64 {
	if t < s.n {
		return 1
	}
	return -1
}

// q is the signed kernel entry Q_tu.
func (s *smo) q(t, u int) float64 {
	return s.sign(t) * s.sign(u) * s.k.At(t%s.n, u%s.n)
}

func (s *smo) diag(t int) float64 {
	return s.k.At(t%s.n, t%s.n)
}

// inUp reports whether a_t may move so that s_t a_t increases.
func (s *smo) inUp(t int) bool {
	if s.sign(t) > 0 {
		return s.alpha[t] < s.c
	}
	return s.alpha[t] > 0
}

func (s *smo) inLow(t int) bool {
	if s.sign(t) > 0 {
		return s.alpha[t] > 0
	}
	return s.alpha[t] < s.c
}

// selectPair returns the working pair, or false once the KKT gap is below tol.
func (s *smo) selectPair(tol float64) (int, int, bool) {
	gmax, gmax2 := math.Inf(-1), math.Inf(-1)
	i := -1
	for t := range s.alpha {
		if s.inUp(t) {
			if v := -s.sign(t) * s.grad[t]; v >= gmax {
				gmax, i = v, t
			}
		}
	}
	if i < 0 {
		return 0, 0, false
	}

	j := -1
	best := math.Inf(1)
	for t := range s.alpha {
		if !s.inLow(t) {
			continue
		}
		sg := s.sign(t) * s.grad[t]
		gmax2 = math.Max(gmax2, sg)
		diff := gmax + sg
		if diff <= 0 {
			continue
		}
		quad := s.diag(i) + s.diag(t) - 2*s.k.At(i%s.n, t%s.n)
		if quad <= 0 {
			quad = tau
		}
		if obj := -diff * diff / quad; obj <= best {
			best, j = obj, t
		}
	}
	if gmax+gmax2 < tol || j < 0 {
		return 0, 0, false
	}
	return i, j, true
}

// update solves the two-variable subproblem of (i, j) analytically and
// refreshes the gradient.
func (s *smo) update(i, j int) {
	c := s.c
	ai, aj := s.alpha[i], s.alpha[j]

	if s.sign(i) != s.sign(j) {
		quad := s.diag(i) + s.diag(j) + 2*s.q(i, j)
		if quad <= 0 {
			quad = tau
		}
		delta := (-s.grad[i] - s.grad[j]) / quad
		diff := ai - aj
		ni, nj := ai+delta, aj+delta
		if diff > 0 {
			if nj < 0 {
				nj, ni = 0, diff
			}
		} else if ni < 0 {
			ni, nj = 0, -diff
		}
		if diff > 0 {
			if ni > c {
				ni, nj = c, c-diff
			}
		} else if nj > c {
			nj, ni = c, c+diff
		}
		s.alpha[i], s.alpha[j] = ni, nj
	} else {
		quad := s.diag(i) + s.diag(j) - 2*s.q(i, j)
		if quad <= 0 {
			quad = tau
		}
		delta := (s.grad[i] - s.grad[j]) / quad
		sum := ai + aj
		ni, nj := ai-delta, aj+delta
		if sum > c {
			if ni > c {
				ni, nj = c, sum-c
			}
		} else if nj < 0 {
			nj, ni = 0, sum
		}
		if sum > c {
			if nj > c {
				nj, ni = c, sum-c
			}
		} else if ni < 0 {
			ni, nj = 0, sum
		}
		s.alpha[i], s.alpha[j] = ni, nj
	}

	di, dj := s.alpha[i]-ai, s.alpha[j]-aj
	for t := range s.grad {
		s.grad[t] += s.q(t, i)*di + s.q(t, j)*dj
	}
}

// rho is the offset of the decision function f(x) = sum beta K - rho: the
// mean of s_t G_t over free variables, or the midpoint of the feasible
// interval when every variable sits at a bound.
func (s *smo) rho() float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	sum, free := 0.0, 0
	for t, a := range s.alpha {
		sg := s.sign(t) * s.grad[t]
		switch {
		case a >= s.c:
			if s.sign(t) < 0 {
				ub = math.Min(ub, sg)
			} else {
				lb = math.Max(lb, sg)
			}
		case a <= 0:
			if s.sign(t) > 0 {
				ub = math.Min(ub, sg)
			} else {
				lb = math.Max(lb, sg)
			}
		default:
			free++
			sum += sg
		}
	}
	if free > 0 {
		return sum / float64(free)
	}
	return (ub + lb) / 2
}

func (m *SVRModel) Predict(X [][]float64) ([]float64, error) {
	out := make([]float64, len(X))
	for i, row := range X {
		if m.Coef != nil {
			out[i] = floats.Dot(m.Coef, row) + m.Bias
			continue
		}
		v := m.Bias
		for k, sv := range m.Support {
			v += m.Dual[k] * m.kernel(sv, row)
		}
		out[i] = v
	}
	return out, nil
}

func (m *SVRModel) importances() []float64 { return m.Coef }

// scaleGamma is 1 / (n_features * var(X)) over all entries of X.
func scaleGamma(X [][]float64) float64 {
	all := make([]float64, 0, len(X)*len(X[0]))
	for _, row := range X {
		all = append(all, row...)
	}
	v := stat.PopVariance(all, nil)
	if v == 0 || math.IsNaN(v) {
		return 1
	}
	return 1 / (float64(len(X[0])) * v)
}
