package modules

import "errors"

var (
	// ErrManifestNotFound is returned for archives without a manifest resource.
	ErrManifestNotFound = errors.New("manifest not found in archive")

	// ErrManifestTooLarge is returned for manifest resources over the size limit.
	ErrManifestTooLarge = errors.New("manifest too large")

	// ErrInvalidManifest is returned for manifests missing a required attribute.
	ErrInvalidManifest = errors.New("invalid manifest")

	// ErrDuplicateModule is returned when a second archive declares a known module name.
	ErrDuplicateModule = errors.New("duplicate module name")

	// ErrDependencyCycle is returned for modules whose dependency chain returns to itself.
	ErrDependencyCycle = errors.New("dependency cycle")

	// ErrDependencyFailed is returned for modules whose dependency could not be loaded.
	ErrDependencyFailed = errors.New("dependency failed")

	// ErrModuleNotFound is returned when no module has the requested name.
	ErrModuleNotFound = errors.New("module not found")

	// ErrEntryNotFound is returned when the main symbol is not defined in the module scope.
	ErrEntryNotFound = errors.New("entry symbol not found")

	// ErrConstruct is returned when the entry symbol cannot be turned into an instance.
	ErrConstruct = errors.New("construct module instance")
)
