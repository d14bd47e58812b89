package stats

import "math"

// DefaultRingCapacity is the number of samples kept per fingerprint.
const DefaultRingCapacity = 10

// Ring is a fixed-capacity circular buffer of (I/O cost, execution time)
// samples with running averages of both fields.
//
// Record is O(1): until the buffer fills, averages are updated as
// avg = (avg*n + x)/(n+1); afterwards as avg += (x - evicted)/capacity.
// Standard deviations are computed on demand over the valid samples.
type Ring struct {
	io    []int64
	times []float64

	// next counts writes since the last reset; next % cap is the write slot.
	next uint64

	avgIO   float64
	avgTime float64
}

// NewRing creates an empty ring. Capacities below 2 are raised to 2.
func NewRing(capacity int) Ring {
	if capacity < 2 {
		capacity = 2
	}
	return Ring{
		io:    make([]int64, capacity),
		times: make([]float64, capacity),
	}
}

// Cap returns the ring capacity.
func (r *Ring) Cap() int {
	return len(r.io)
}

// Len returns the number of valid samples: the capacity once full, otherwise
// the number of writes so far.
func (r *Ring) Len() int {
	if r.next >= uint64(len(r.io)) {
		return len(r.io)
	}
	return int(r.next)
}

// Writes returns the number of samples recorded since the last reset.
func (r *Ring) Writes() uint64 {
	return r.next
}

// Record appends one sample, overwriting the oldest when full.
func (r *Ring) Record(ioCost int64, execTime float64) {
	capacity := uint64(len(r.io))
	slot := r.next % capacity

	if r.next >= capacity {
		r.avgIO += float64(ioCost-r.io[slot]) / float64(capacity)
		r.avgTime += (execTime - r.times[slot]) / float64(capacity)
	} else {
		n := float64(r.next)
		r.avgIO = (r.avgIO*n + float64(ioCost)) / (n + 1)
		r.avgTime = (r.avgTime*n + execTime) / (n + 1)
	}

	r.io[slot] = ioCost
	r.times[slot] = execTime
	r.next++
}

// AvgIO returns the running mean of the valid I/O samples.
func (r *Ring) AvgIO() float64 {
	return r.avgIO
}

// AvgTime returns the running mean of the valid execution times.
func (r *Ring) AvgTime() float64 {
	return r.avgTime
}

// StdDevIO returns the population standard deviation of the valid I/O
// samples, or 0 when there are none.
func (r *Ring) StdDevIO() float64 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(r.io[i])
	}
	mean := sum / float64(n)

	var sq float64
	for i := 0; i < n; i++ {
		d := float64(r.io[i]) - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n))
}

// StdDevTime is StdDevIO for execution times.
func (r *Ring) StdDevTime() float64 {
	n := r.Len()
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += r.times[i]
	}
	mean := sum / float64(n)

	var sq float64
	for i := 0; i < n; i++ {
		d := r.times[i] - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(n))
}

// Samples copies the valid samples, oldest first.
func (r *Ring) Samples() ([]int64, []float64) {
	n := r.Len()
	io := make([]int64, 0, n)
	times := make([]float64, 0, n)

	start := uint64(0)
	if r.next > uint64(len(r.io)) {
		start = r.next % uint64(len(r.io))
	}
	for i := 0; i < n; i++ {
		slot := (start + uint64(i)) % uint64(len(r.io))
		io = append(io, r.io[slot])
		times = append(times, r.times[slot])
	}
	return io, times
}

// Reset drops every sample.
func (r *Ring) Reset() {
	for i := range r.io {
		r.io[i] = 0
		r.times[i] = 0
	}
	r.next = 0
	r.avgIO = 0
	r.avgTime = 0
}
