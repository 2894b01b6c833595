package interp

// Intrinsic import names the interpreter is allowed to encounter while
// executing describe functions. Calls to __wbindgen_describe and
// __wbindgen_describe_closure are handled specially; every other name in
// this table is evaluated as a no-op that yields zero results. A call to
// an imported function whose name is not listed here aborts the run.
const (
	nameDescribe        = "__wbindgen_describe"
	nameDescribeClosure = "__wbindgen_describe_closure"
)

var glueIntrinsics = map[string]bool{
	// jsval comparisons
	"__wbindgen_jsval_eq":       true,
	"__wbindgen_jsval_loose_eq": true,

	// type predicates
	"__wbindgen_is_undefined": true,
	"__wbindgen_is_null":      true,
	"__wbindgen_is_object":    true,
	"__wbindgen_is_function":  true,
	"__wbindgen_is_string":    true,
	"__wbindgen_is_symbol":    true,
	"__wbindgen_is_bigint":    true,
	"__wbindgen_is_falsy":     true,

	// string/number extraction and construction
	"__wbindgen_string_get":        true,
	"__wbindgen_number_get":        true,
	"__wbindgen_boolean_get":       true,
	"__wbindgen_bigint_get_as_i64": true,
	"__wbindgen_string_new":        true,
	"__wbindgen_number_new":        true,

	// object lifecycle
	"__wbindgen_object_clone_ref": true,
	"__wbindgen_object_drop_ref":  true,

	// memory/table accessors
	"__wbindgen_memory":         true,
	"__wbindgen_function_table": true,
	"__wbindgen_exports":        true,

	// panic propagation
	"__wbindgen_throw":   true,
	"__wbindgen_rethrow": true,
}

func isGlueIntrinsic(name string) bool {
	return glueIntrinsics[name]
}
