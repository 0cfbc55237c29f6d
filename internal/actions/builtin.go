package actions

// RegisterBuiltins registers the modules shipped with the engine. The
// engine treats them exactly like user-supplied modules: opaque units
// behind the adapter contract.
func RegisterBuiltins(reg *Registry) {
	reg.RegisterModule(NewHTTPRequestModule())
	reg.RegisterModule(NewCollectModule())
	reg.RegisterModule(&PDFExtractModule{})
	reg.RegisterModule(&XLSXExtractModule{})
}
