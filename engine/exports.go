package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"
)

// fnTable holds the engine's exported C API. Resolved once at instantiation;
// a build missing any of these is rejected up front rather than failing at
// first use.
type fnTable struct {
	// heap
	alloc       api.Function
	free        api.Function
	getHeapSize api.Function

	// runtime and context lifecycle
	newRuntime      api.Function
	freeRuntime     api.Function
	newContext      api.Function
	freeContext     api.Function
	setMemoryLimit  api.Function
	setMaxStackSize api.Function
	runGC           api.Function
	pendingJobs     api.Function
	addConsole      api.Function

	// evaluation
	eval       api.Function
	evalModule api.Function

	// predicates
	isException api.Function
	isUndefined api.Function
	isNull      api.Function
	isBool      api.Function
	isNumber    api.Function
	isString    api.Function
	isSymbol    api.Function
	isObject    api.Function
	isFunction  api.Function
	isArray     api.Function
	isError     api.Function
	isPromise   api.Function

	// constructors
	newUndefined api.Function
	newNull      api.Function
	newBool      api.Function
	newInt32     api.Function
	newInt64     api.Function
	newFloat64   api.Function
	newStringLen api.Function
	newObject    api.Function
	newArray     api.Function

	// accessors
	toBool      api.Function
	toInt32     api.Function
	toInt64     api.Function
	toFloat64   api.Function
	toCString   api.Function
	freeCString api.Function
	typeofOp    api.Function

	// properties
	getProperty    api.Function
	setProperty    api.Function
	hasProperty    api.Function
	deleteProperty api.Function
	getPropertyIdx api.Function
	setPropertyIdx api.Function
	globalObject   api.Function

	// calls
	call            api.Function
	invoke          api.Function
	callConstructor api.Function
	newCFunction    api.Function

	// exceptions
	hasException   api.Function
	getException   api.Function
	throw          api.Function
	throwError     api.Function
	throwTypeError api.Function
	errorMessage   api.Function
	errorStack     api.Function

	// value management
	dupValue  api.Function
	freeValue api.Function

	// misc
	jsonParse     api.Function
	jsonStringify api.Function
	strictEq      api.Function
	instanceOf    api.Function
}

func (t *fnTable) resolve(m api.Module) error {
	var missing []string
	get := func(name string) api.Function {
		fn := m.ExportedFunction(name)
		if fn == nil {
			missing = append(missing, name)
		}
		return fn
	}

	t.alloc = get("qjs_alloc")
	t.free = get("qjs_free")
	t.getHeapSize = get("qjs_get_heap_size")

	t.newRuntime = get("qjs_new_runtime")
	t.freeRuntime = get("qjs_free_runtime")
	t.newContext = get("qjs_new_context")
	t.freeContext = get("qjs_free_context")
	t.setMemoryLimit = get("qjs_set_memory_limit")
	t.setMaxStackSize = get("qjs_set_max_stack_size")
	t.runGC = get("qjs_run_gc")
	t.pendingJobs = get("qjs_execute_pending_jobs")
	t.addConsole = get("qjs_std_add_console")

	t.eval = get("qjs_eval")
	t.evalModule = get("qjs_eval_module")

	t.isException = get("qjs_is_exception")
	t.isUndefined = get("qjs_is_undefined")
	t.isNull = get("qjs_is_null")
	t.isBool = get("qjs_is_bool")
	t.isNumber = get("qjs_is_number")
	t.isString = get("qjs_is_string")
	t.isSymbol = get("qjs_is_symbol")
	t.isObject = get("qjs_is_object")
	t.isFunction = get("qjs_is_function")
	t.isArray = get("qjs_is_array")
	t.isError = get("qjs_is_error")
	t.isPromise = get("qjs_is_promise")

	t.newUndefined = get("qjs_new_undefined")
	t.newNull = get("qjs_new_null")
	t.newBool = get("qjs_new_bool")
	t.newInt32 = get("qjs_new_int32")
	t.newInt64 = get("qjs_new_int64")
	t.newFloat64 = get("qjs_new_float64")
	t.newStringLen = get("qjs_new_string_len")
	t.newObject = get("qjs_new_object")
	t.newArray = get("qjs_new_array")

	t.toBool = get("qjs_to_bool")
	t.toInt32 = get("qjs_to_int32")
	t.toInt64 = get("qjs_to_int64")
	t.toFloat64 = get("qjs_to_float64")
	t.toCString = get("qjs_to_cstring")
	t.freeCString = get("qjs_free_cstring")
	t.typeofOp = get("qjs_typeof")

	t.getProperty = get("qjs_get_property")
	t.setProperty = get("qjs_set_property")
	t.hasProperty = get("qjs_has_property")
	t.deleteProperty = get("qjs_delete_property")
	t.getPropertyIdx = get("qjs_get_property_uint32")
	t.setPropertyIdx = get("qjs_set_property_uint32")
	t.globalObject = get("qjs_get_global_object")

	t.call = get("qjs_call")
	t.invoke = get("qjs_invoke")
	t.callConstructor = get("qjs_call_constructor")
	t.newCFunction = get("qjs_new_c_function")

	t.hasException = get("qjs_has_exception")
	t.getException = get("qjs_get_exception")
	t.throw = get("qjs_throw")
	t.throwError = get("qjs_throw_error")
	t.throwTypeError = get("qjs_throw_type_error")
	t.errorMessage = get("qjs_get_error_message")
	t.errorStack = get("qjs_get_error_stack")

	t.dupValue = get("qjs_dup_value")
	t.freeValue = get("qjs_free_value")

	t.jsonParse = get("qjs_json_parse")
	t.jsonStringify = get("qjs_json_stringify")
	t.strictEq = get("qjs_strict_eq")
	t.instanceOf = get("qjs_instanceof")

	if len(missing) > 0 {
		return fmt.Errorf("engine build missing exports: %s", strings.Join(missing, ", "))
	}
	return nil
}

// call1 invokes an exported function and returns its first result.
func (b *Bridge) call1(ctx context.Context, fn api.Function, args ...uint64) (uint64, error) {
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}
	return results[0], nil
}

// callBool invokes a predicate-shaped export.
func (b *Bridge) callBool(ctx context.Context, fn api.Function, args ...uint64) (bool, error) {
	r, err := b.call1(ctx, fn, args...)
	return int32(r) != 0, err
}
