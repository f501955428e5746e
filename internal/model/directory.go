package model

// EmployeeSummary is the profile slice used to enrich conversation listings.
// Ids that no longer resolve get a placeholder summary instead of failing the
// whole call.
type EmployeeSummary struct {
	EmployeeID string `json:"employee_id" bson:"employee_id"`
	Name       string `json:"employee_name" bson:"employee_name"`
	Email      string `json:"email" bson:"email"`
	Image      string `json:"image" bson:"image"`
}

// UnknownEmployee is the placeholder summary for ids absent from the
// directory.
func UnknownEmployee(employeeID string) EmployeeSummary {
	return EmployeeSummary{EmployeeID: employeeID, Name: "Unknown"}
}

// TaskInfo is the slice of a task record the conversation rules need:
// who created it and who is assigned.
type TaskInfo struct {
	TaskID     string   `json:"task_id" bson:"task_id"`
	CreatedBy  string   `json:"created_by" bson:"created_by"`
	AssignedTo []string `json:"assigned_to" bson:"assigned_to"`
}

// IsAssigned reports whether the employee is in the task's assignee set.
func (t *TaskInfo) IsAssigned(employeeID string) bool {
	for _, id := range t.AssignedTo {
		if id == employeeID {
			return true
		}
	}
	return false
}
