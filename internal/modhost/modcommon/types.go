package modcommon

const (
	ServerVersion = "0.1.0"
	ApiVersion    = "v1"
)

// Module kinds decide how pipeline steps reach a module.
const (
	ModuleKindService = "service"
	ModuleKindJob     = "job"
)

// DefaultModulePort is where service modules listen when the descriptor does
// not say otherwise.
const DefaultModulePort = 8080

// Audit actions.
const (
	ActionRegisterModule       = "register_module"
	ActionActivateModule       = "activate_module"
	ActionDeactivateModule     = "deactivate_module"
	ActionCreateOrchestration  = "create_orchestration"
	ActionUpdateOrchestration  = "update_orchestration"
	ActionDeleteOrchestration  = "delete_orchestration"
	ActionTriggerOrchestration = "trigger_orchestration"
	ActionRunModule            = "run_module"
	ActionCreateProvider       = "create_provider"
	ActionUpdateProvider       = "update_provider"
	ActionDeleteProvider       = "delete_provider"
)

// WorkloadName is the deterministic container name for a tenant module.
func WorkloadName(tenantID TenantId, moduleName string) string {
	return string(tenantID) + "-" + moduleName
}
