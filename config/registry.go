package config

// The pipeline dispatches optimizers and backbone architectures by name.
// Both name sets are closed enumerations validated when the config is
// built, not when the component is first used.

// SupportedOptimizers lists the optimizer names the training engine can
// instantiate.
var SupportedOptimizers = []string{"sgd", "rmsprop", "adam"}

// SupportedBackbones lists the pretrained backbone architectures the
// model assembler can build. Only sequential architectures appear here;
// the compute engine executes sequential graphs.
var SupportedBackbones = []string{"vgg16", "vgg19"}

// IsSupportedOptimizer reports whether name is a known optimizer.
func IsSupportedOptimizer(name string) bool {
	for _, n := range SupportedOptimizers {
		if n == name {
			return true
		}
	}
	return false
}

// IsSupportedBackbone reports whether name is a known backbone
// architecture.
func IsSupportedBackbone(name string) bool {
	for _, n := range SupportedBackbones {
		if n == name {
			return true
		}
	}
	return false
}
