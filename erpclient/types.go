package erpclient

import (
	"errors"
	"fmt"
)

// ErrAuth covers failed token acquisition and 401/403 answers. Callers can
// tell it apart from transient transport trouble.
var ErrAuth = errors.New("erp authentication failed")

// TransportError is a network failure or an unexpected HTTP status. The
// fetch loop must not read it as "no more data".
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("erp %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("erp %s: unexpected status %d", e.Op, e.Status)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteEmployee is the ERP wire shape for one employee record.
type RemoteEmployee struct {
	EmployeeID string            `json:"employeeId" validate:"required"`
	FullName   string            `json:"fullName" validate:"required"`
	CPF        string            `json:"cpf"`
	Email      string            `json:"email" validate:"required,email"`
	Phone      string            `json:"phone"`
	BirthDate  string            `json:"birthDate"`
	JobTitle   string            `json:"jobTitle"`
	Department *RemoteDepartment `json:"department"`
	ManagerID  string            `json:"managerId"`
	HireDate   string            `json:"hireDate"`
	Salary     string            `json:"salary"`
	IsActive   *bool             `json:"isActive"`
	UpdatedAt  string            `json:"updatedAt"`
}

type RemoteDepartment struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name"`
	ErpCode string `json:"erpCode"`
}

type RemotePayrollRecord struct {
	PayrollID   string                 `json:"payrollId" validate:"required"`
	EmployeeID  string                 `json:"employeeId" validate:"required"`
	PeriodStart string                 `json:"periodStart"`
	PeriodEnd   string                 `json:"periodEnd"`
	GrossSalary string                 `json:"grossSalary"`
	NetSalary   string                 `json:"netSalary"`
	Details     map[string]interface{} `json:"details"`
	ProcessedAt string                 `json:"processedAt"`
}

type pagination struct {
	HasNext bool `json:"hasNext"`
}

// EmployeePage is one page of the changed-employees feed. HasNext false plus
// an empty Records slice is the only end-of-data signal; fetch failures are
// returned as errors, never as empty pages.
type EmployeePage struct {
	Records []RemoteEmployee
	HasNext bool
}

type PayrollPage struct {
	Records []RemotePayrollRecord
	HasNext bool
}

type PaymentOrder struct {
	EmployeeID string `json:"employeeId"`
	Amount     string `json:"amount"`
	Currency   string `json:"currency"`
	Reference  string `json:"reference"`
}

type PaymentResult struct {
	Accepted bool                   `json:"success"`
	Details  map[string]interface{} `json:"details"`
}
