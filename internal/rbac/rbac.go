package rbac

import "sort"

// Role is the closed set of role codes. Codes read from storage or tokens go
// through ParseRole; anything outside the set is rejected.
type Role string

const (
	RoleAdmin             Role = "ADMIN"
	RoleSalesRep          Role = "SALES_REP"
	RoleSalesManager      Role = "SALES_MANAGER"
	RoleEngineer          Role = "ENGINEER"
	RoleProductionManager Role = "PRODUCTION_MANAGER"
	RoleQCInspector       Role = "QC_INSPECTOR"
	RoleWarehouse         Role = "WAREHOUSE"
	RoleAuditor           Role = "AUDITOR"
)

var roleNames = map[Role]string{
	RoleAdmin:             "Administrator",
	RoleSalesRep:          "Sales Representative",
	RoleSalesManager:      "Sales Manager",
	RoleEngineer:          "Engineer",
	RoleProductionManager: "Production Manager",
	RoleQCInspector:       "QC Inspector",
	RoleWarehouse:         "Warehouse",
	RoleAuditor:           "Auditor",
}

func AllRoles() []Role {
	return []Role{
		RoleAdmin, RoleSalesRep, RoleSalesManager, RoleEngineer,
		RoleProductionManager, RoleQCInspector, RoleWarehouse, RoleAuditor,
	}
}

func ParseRole(code string) (Role, bool) {
	r := Role(code)
	_, ok := roleNames[r]
	return r, ok
}

func (r Role) DisplayName() string {
	return roleNames[r]
}

func (r Role) IsAdmin() bool {
	return r == RoleAdmin
}

type Category string

const (
	CategoryOrders     Category = "orders"
	CategoryInventory  Category = "inventory"
	CategoryBOM        Category = "bom"
	CategoryQC         Category = "qc"
	CategoryProduction Category = "production"
	CategoryDocuments  Category = "documents"
	CategoryReporting  Category = "reporting"
	CategorySystem     Category = "system"
)

type Permission string

const (
	PermOrderCreate         Permission = "ORDER_CREATE"
	PermOrderView           Permission = "ORDER_VIEW"
	PermOrderConfigure      Permission = "ORDER_CONFIGURE"
	PermOrderSubmitApproval Permission = "ORDER_SUBMIT_APPROVAL"
	PermOrderCancel         Permission = "ORDER_CANCEL"
	PermOrderRollback       Permission = "ORDER_ROLLBACK"

	PermBOMGenerate Permission = "BOM_GENERATE"
	PermBOMView     Permission = "BOM_VIEW"

	PermProductionSchedule Permission = "PRODUCTION_SCHEDULE"
	PermProductionComplete Permission = "PRODUCTION_COMPLETE"

	PermQCInspect Permission = "QC_INSPECT"
	PermQCApprove Permission = "QC_APPROVE"

	PermInventoryView    Permission = "INVENTORY_VIEW"
	PermInventoryManage  Permission = "INVENTORY_MANAGE"
	PermShippingDispatch Permission = "SHIPPING_DISPATCH"
	PermDeliveryConfirm  Permission = "DELIVERY_CONFIRM"
	PermDocumentView     Permission = "DOCUMENT_VIEW"
	PermDocumentUpload   Permission = "DOCUMENT_UPLOAD"
	PermReportView       Permission = "REPORT_VIEW"
	PermReportExport     Permission = "REPORT_EXPORT"
	PermUserManage       Permission = "USER_MANAGE"
	PermRoleAssign       Permission = "ROLE_ASSIGN"
	PermAuditView        Permission = "AUDIT_VIEW"
	PermSystemConfigure  Permission = "SYSTEM_CONFIGURE"
)

type permissionInfo struct {
	category    Category
	description string
}

var permissionInfos = map[Permission]permissionInfo{
	PermOrderCreate:         {CategoryOrders, "Create new orders"},
	PermOrderView:           {CategoryOrders, "View orders and their history"},
	PermOrderConfigure:      {CategoryOrders, "Move orders into configuration"},
	PermOrderSubmitApproval: {CategoryOrders, "Submit configured orders for approval"},
	PermOrderCancel:         {CategoryOrders, "Cancel orders"},
	PermOrderRollback:       {CategoryOrders, "Roll an order back one phase"},
	PermBOMGenerate:         {CategoryBOM, "Generate bills of materials"},
	PermBOMView:             {CategoryBOM, "View bills of materials"},
	PermProductionSchedule:  {CategoryProduction, "Schedule production runs"},
	PermProductionComplete:  {CategoryProduction, "Mark production complete"},
	PermQCInspect:           {CategoryQC, "Record quality inspections"},
	PermQCApprove:           {CategoryQC, "Release orders from quality control"},
	PermInventoryView:       {CategoryInventory, "View inventory"},
	PermInventoryManage:     {CategoryInventory, "Adjust inventory"},
	PermShippingDispatch:    {CategoryInventory, "Dispatch packaged orders"},
	PermDeliveryConfirm:     {CategoryInventory, "Confirm delivery"},
	PermDocumentView:        {CategoryDocuments, "View order documents"},
	PermDocumentUpload:      {CategoryDocuments, "Upload order documents"},
	PermReportView:          {CategoryReporting, "View reports"},
	PermReportExport:        {CategoryReporting, "Export reports"},
	PermUserManage:          {CategorySystem, "Manage user accounts"},
	PermRoleAssign:          {CategorySystem, "Assign roles to users"},
	PermAuditView:           {CategorySystem, "Read the audit trail"},
	PermSystemConfigure:     {CategorySystem, "Change system configuration"},
}

// AllPermissions returns the full permission catalog in stable order.
func AllPermissions() []Permission {
	out := make([]Permission, 0, len(permissionInfos))
	for p := range permissionInfos {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

func ParsePermission(code string) (Permission, bool) {
	p := Permission(code)
	_, ok := permissionInfos[p]
	return p, ok
}

func (p Permission) Category() Category {
	return permissionInfos[p].category
}

func (p Permission) Description() string {
	return permissionInfos[p].description
}

func sortPermissions(ps []Permission) {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
}
