package lead

// RoundRobin plans a distribution of ids over assignees: the lead at
// position i goes to assignees[(offset+i) % len(assignees)]. Per-assignee
// counts differ by at most one and ids keep their order.
func RoundRobin(ids, assignees []int64, offset int) ([]Assignment, error) {
	if len(assignees) == 0 {
		return nil, ErrNoAssignees
	}
	n := len(assignees)
	start := ((offset % n) + n) % n

	plan := make([]Assignment, len(ids))
	for i, id := range ids {
		plan[i] = Assignment{LeadID: id, AssignedTo: assignees[(start+i)%n]}
	}
	return plan, nil
}
