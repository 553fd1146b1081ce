package enums

// ApprovalOperation names an action the manager-approval policy can gate.
type ApprovalOperation string

const (
	ApprovalSale         ApprovalOperation = "sale"
	ApprovalCreditSale   ApprovalOperation = "credit_sale"
	ApprovalCrossCompany ApprovalOperation = "cross_company"
	ApprovalReturn       ApprovalOperation = "return"
	ApprovalRequeue      ApprovalOperation = "requeue"
)

var validApprovalOperations = []ApprovalOperation{
	ApprovalSale,
	ApprovalCreditSale,
	ApprovalCrossCompany,
	ApprovalReturn,
	ApprovalRequeue,
}

func (o ApprovalOperation) IsValid() bool { return member(validApprovalOperations, o) }

func ParseApprovalOperation(value string) (ApprovalOperation, error) {
	return parse(validApprovalOperations, value, "approval operation", false)
}
