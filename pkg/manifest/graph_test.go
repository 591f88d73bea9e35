package manifest

import (
	"reflect"
	"testing"
)

func steps(spec map[int][]int) []Step {
	out := make([]Step, 0, len(spec))
	for n := 1; n <= len(spec)*10; n++ {
		deps, ok := spec[n]
		if !ok {
			continue
		}
		out = append(out, Step{Number: n, Title: "step", Command: "true", DependsOn: deps})
	}
	return out
}

func TestTopologicalOrder(t *testing.T) {
	tests := []struct {
		name string
		spec map[int][]int
		want []int
	}{
		{
			name: "linear chain",
			spec: map[int][]int{1: nil, 2: {1}, 3: {2}},
			want: []int{1, 2, 3},
		},
		{
			name: "diamond",
			spec: map[int][]int{1: nil, 2: {1}, 3: {1}, 4: {2, 3}},
			want: []int{1, 2, 3, 4},
		},
		{
			name: "independent roots order by number",
			spec: map[int][]int{3: nil, 1: nil, 2: nil},
			want: []int{1, 2, 3},
		},
		{
			name: "cycle yields short order",
			spec: map[int][]int{1: {2}, 2: {1}, 3: nil},
			want: []int{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TopologicalOrder(steps(tt.spec))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("TopologicalOrder() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTopologicalOrderDeterministic(t *testing.T) {
	spec := map[int][]int{1: nil, 2: nil, 3: nil, 4: {1, 2}, 5: {3}, 6: {4, 5}}
	first := TopologicalOrder(steps(spec))
	for i := 0; i < 20; i++ {
		if got := TopologicalOrder(steps(spec)); !reflect.DeepEqual(got, first) {
			t.Fatalf("order changed between runs: %v vs %v", got, first)
		}
	}
}

func TestFindCycle(t *testing.T) {
	t.Run("acyclic returns nil", func(t *testing.T) {
		if got := FindCycle(steps(map[int][]int{1: nil, 2: {1}})); got != nil {
			t.Errorf("FindCycle() = %v, want nil", got)
		}
	})

	t.Run("two step cycle", func(t *testing.T) {
		got := FindCycle(steps(map[int][]int{1: {2}, 2: {1}}))
		if len(got) != 3 || got[0] != got[len(got)-1] {
			t.Fatalf("FindCycle() = %v, want closed path of length 3", got)
		}
	})

	t.Run("three step cycle is closed", func(t *testing.T) {
		got := FindCycle(steps(map[int][]int{1: {3}, 2: {1}, 3: {2}}))
		if len(got) != 4 {
			t.Fatalf("FindCycle() = %v, want closed path of length 4", got)
		}
		if got[0] != got[len(got)-1] {
			t.Errorf("cycle %v should start and end on the same step", got)
		}
	})

	t.Run("deterministic witness", func(t *testing.T) {
		spec := map[int][]int{1: nil, 2: {5}, 3: {2}, 4: {3}, 5: {4}}
		first := FindCycle(steps(spec))
		for i := 0; i < 10; i++ {
			if got := FindCycle(steps(spec)); !reflect.DeepEqual(got, first) {
				t.Fatalf("witness changed between runs: %v vs %v", got, first)
			}
		}
	})
}

func TestReadySteps(t *testing.T) {
	graph := steps(map[int][]int{1: nil, 2: {1}, 3: {1}, 4: {2, 3}})

	tests := []struct {
		name      string
		started   map[int]bool
		satisfied map[int]bool
		want      []int
	}{
		{
			name:      "only root ready at start",
			started:   map[int]bool{},
			satisfied: map[int]bool{},
			want:      []int{1},
		},
		{
			name:      "fanout after root completes",
			started:   map[int]bool{1: true},
			satisfied: map[int]bool{1: true},
			want:      []int{2, 3},
		},
		{
			name:      "join waits for both branches",
			started:   map[int]bool{1: true, 2: true, 3: true},
			satisfied: map[int]bool{1: true, 2: true},
			want:      nil,
		},
		{
			name:      "join ready once branches satisfied",
			started:   map[int]bool{1: true, 2: true, 3: true},
			satisfied: map[int]bool{1: true, 2: true, 3: true},
			want:      []int{4},
		},
		{
			name:      "skipped dependency satisfies dependents",
			started:   map[int]bool{1: true, 2: true},
			satisfied: map[int]bool{1: true, 2: true},
			want:      []int{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ReadySteps(graph, tt.started, tt.satisfied)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ReadySteps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDownstream(t *testing.T) {
	graph := steps(map[int][]int{1: nil, 2: {1}, 3: {2}, 4: {1}, 5: nil})

	got := Downstream(graph, 2)
	want := map[int]bool{3: true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Downstream(2) = %v, want %v", got, want)
	}

	got = Downstream(graph, 1)
	want = map[int]bool{2: true, 3: true, 4: true}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Downstream(1) = %v, want %v", got, want)
	}

	if got := Downstream(graph, 5); len(got) != 0 {
		t.Errorf("Downstream(5) = %v, want empty", got)
	}
}
