package lead

import (
	"testing"
)

func TestRoundRobinBalance(t *testing.T) {
	tests := []struct {
		name      string
		leads     int
		assignees []int64
		offset    int
	}{
		{"even split", 6, []int64{10, 20, 30}, 0},
		{"remainder", 7, []int64{10, 20, 30}, 0},
		{"offset", 7, []int64{10, 20, 30}, 2},
		{"negative offset", 5, []int64{10, 20}, -3},
		{"fewer leads than assignees", 2, []int64{10, 20, 30, 40}, 1},
		{"single assignee", 4, []int64{10}, 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]int64, tt.leads)
			for i := range ids {
				ids[i] = int64(100 + i)
			}

			plan, err := RoundRobin(ids, tt.assignees, tt.offset)
			if err != nil {
				t.Fatalf("RoundRobin: %v", err)
			}
			if len(plan) != len(ids) {
				t.Fatalf("got %d assignments, want %d", len(plan), len(ids))
			}

			counts := map[int64]int{}
			for i, a := range plan {
				if a.LeadID != ids[i] {
					t.Errorf("assignment %d is lead %d, want %d", i, a.LeadID, ids[i])
				}
				counts[a.AssignedTo]++
			}

			lo, hi := len(ids), 0
			for _, id := range tt.assignees {
				if counts[id] < lo {
					lo = counts[id]
				}
				if counts[id] > hi {
					hi = counts[id]
				}
			}
			if hi-lo > 1 {
				t.Errorf("counts %v differ by more than one", counts)
			}
		})
	}
}

func TestRoundRobinOffset(t *testing.T) {
	plan, err := RoundRobin([]int64{1, 2, 3, 4}, []int64{10, 20, 30}, 2)
	if err != nil {
		t.Fatalf("RoundRobin: %v", err)
	}
	want := []int64{30, 10, 20, 30}
	for i, a := range plan {
		if a.AssignedTo != want[i] {
			t.Errorf("lead %d -> %d, want %d", a.LeadID, a.AssignedTo, want[i])
		}
	}

	plan, err = RoundRobin([]int64{1}, []int64{10, 20, 30}, -1)
	if err != nil {
		t.Fatalf("RoundRobin: %v", err)
	}
	if plan[0].AssignedTo != 30 {
		t.Errorf("offset -1 -> %d, want 30", plan[0].AssignedTo)
	}
}

func TestRoundRobinNoAssignees(t *testing.T) {
	if _, err := RoundRobin([]int64{1, 2}, nil, 0); err != ErrNoAssignees {
		t.Errorf("got %v, want ErrNoAssignees", err)
	}

	plan, err := RoundRobin(nil, []int64{10}, 0)
	if err != nil || len(plan) != 0 {
		t.Errorf("empty ids: got %v, %v", plan, err)
	}
}
