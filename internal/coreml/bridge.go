// Vendored from gomlx/go-coreml (Apache 2.0 License)
// https://github.com/gomlx/go-coreml
// Original: internal/bridge/bridge.go

// Package coreml provides low-level cgo bindings to CoreML.
//
// This package wraps the Objective-C CoreML bridge and exposes
// Go-friendly APIs for model loading, tensor operations, and inference.
package coreml

/*
#cgo darwin CFLAGS: -fobjc-arc
#cgo darwin LDFLAGS: -framework Foundation -framework CoreML
#include "bridge.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"unsafe"
)

// DType represents a CoreML data type.
type DType int

const (
	DTypeFloat32 DType = C.COREML_DTYPE_FLOAT32
	DTypeFloat16 DType = C.COREML_DTYPE_FLOAT16
	DTypeInt32   DType = C.COREML_DTYPE_INT32
	DTypeInt64   DType = C.COREML_DTYPE_INT64
	DTypeBool    DType = C.COREML_DTYPE_BOOL
)

// ComputeUnits specifies which compute units to use.
type ComputeUnits int

const (
	ComputeAll       ComputeUnits = C.COREML_COMPUTE_ALL
	ComputeCPUOnly   ComputeUnits = C.COREML_COMPUTE_CPU_ONLY
	ComputeCPUAndGPU ComputeUnits = C.COREML_COMPUTE_CPU_AND_GPU
	ComputeCPUAndANE ComputeUnits = C.COREML_COMPUTE_CPU_AND_ANE
)

// SetComputeUnits sets the global compute units for model loading.
func SetComputeUnits(units ComputeUnits) {
	C.coreml_set_compute_units(C.CoreMLComputeUnits(units))
}

// Model represents a loaded CoreML model.
type Model struct {
	handle C.CoreMLModel
}

// CompileModel compiles an .mlpackage to .mlmodelc using CoreML.
// Returns the path to the compiled model.
// If outputDir is empty, the model is compiled to a temporary location.
func CompileModel(packagePath, outputDir string) (string, error) {
	cPackagePath := C.CString(packagePath)
	defer C.free(unsafe.Pointer(cPackagePath))

	var cOutputDir *C.char
	if outputDir != "" {
		cOutputDir = C.CString(outputDir)
		defer C.free(unsafe.Pointer(cOutputDir))
	}

	var err C.CoreMLError
	compiledPath := C.coreml_compile_model(cPackagePath, cOutputDir, &err)
	if compiledPath == nil {
		msg := "unknown error"
		if err.message != nil {
			msg = C.GoString(err.message)
			C.free(unsafe.Pointer(err.message))
		}
		return "", fmt.Errorf("failed to compile model: %s", msg)
	}

	result := C.GoString(compiledPath)
	C.free(unsafe.Pointer(compiledPath))
	return result, nil
}

// LoadModel loads a CoreML model from a .mlmodelc directory.
func LoadModel(path string) (*Model, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var err C.CoreMLError
	handle := C.coreml_load_model(cPath, &err)
	if handle == nil {
		msg := "unknown error"
		if err.message != nil {
			msg = C.GoString(err.message)
			C.free(unsafe.Pointer(err.message))
		}
		return nil, fmt.Errorf("failed to load model: %s", msg)
	}

	return &Model{handle: handle}, nil
}

// Close releases the model resources.
func (m *Model) Close() {
	if m.handle != nil {
		C.coreml_free_model(m.handle)
		m.handle = nil
	}
}

// InputCount returns the number of inputs.
func (m *Model) InputCount() int {
	return int(C.coreml_model_input_count(m.handle))
}

// OutputCount returns the number of outputs.
func (m *Model) OutputCount() int {
	return int(C.coreml_model_output_count(m.handle))
}

// InputName returns the name of the input at the given index.
func (m *Model) InputName(index int) string {
	cName := C.coreml_model_input_name(m.handle, C.int(index))
	if cName == nil {
		return ""
	}
	name := C.GoString(cName)
	C.free(unsafe.Pointer(cName))
	return name
}

// OutputName returns the name of the output at the given index.
func (m *Model) OutputName(index int) string {
	cName := C.coreml_model_output_name(m.handle, C.int(index))
	if cName == nil {
		return ""
	}
	name := C.GoString(cName)
	C.free(unsafe.Pointer(cName))
	return name
}

// Tensor represents a multi-dimensional array for CoreML.
type Tensor struct {
	handle C.CoreMLTensor
}

// NewTensor creates a new tensor with the given shape and data type.
// An empty shape creates a scalar (rank-0) tensor.
func NewTensor(shape []int64, dtype DType) (*Tensor, error) {
	var err C.CoreMLError
	var shapePtr *C.int64_t
	if len(shape) > 0 {
		shapePtr = (*C.int64_t)(unsafe.Pointer(&shape[0]))
	}
	handle := C.coreml_tensor_create(
		shapePtr,
		C.int(len(shape)),
		C.int(dtype),
		&err,
	)
	if handle == nil {
		msg := "unknown error"
		if err.message != nil {
			msg = C.GoString(err.message)
			C.free(unsafe.Pointer(err.message))
		}
		return nil, fmt.Errorf("failed to create tensor: %s", msg)
	}
	return &Tensor{handle: handle}, nil
}

// NewTensorWithData creates a tensor and copies data into it.
// An empty shape creates a scalar (rank-0) tensor.
func NewTensorWithData(shape []int64, dtype DType, data unsafe.Pointer) (*Tensor, error) {
	var err C.CoreMLError
	var shapePtr *C.int64_t
	if len(shape) > 0 {
		shapePtr = (*C.int64_t)(unsafe.Pointer(&shape[0]))
	}
	handle := C.coreml_tensor_create_with_data(
		shapePtr,
		C.int(len(shape)),
		C.int(dtype),
		data,
		&err,
	)
	if handle == nil {
		msg := "unknown error"
		if err.message != nil {
			msg = C.GoString(err.message)
			C.free(unsafe.Pointer(err.message))
		}
		return nil, fmt.Errorf("failed to create tensor with data: %s", msg)
	}
	return &Tensor{handle: handle}, nil
}

// Close releases the tensor resources.
func (t *Tensor) Close() {
	if t.handle != nil {
		C.coreml_tensor_free(t.handle)
		t.handle = nil
	}
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int {
	return int(C.coreml_tensor_rank(t.handle))
}

// Dim returns the size of the given dimension.
func (t *Tensor) Dim(axis int) int64 {
	return int64(C.coreml_tensor_dim(t.handle, C.int(axis)))
}

// Stride returns the stride of the given dimension.
func (t *Tensor) Stride(axis int) int64 {
	return int64(C.coreml_tensor_stride(t.handle, C.int(axis)))
}

// Strides returns all strides as a slice.
func (t *Tensor) Strides() []int64 {
	rank := t.Rank()
	strides := make([]int64, rank)
	for i := 0; i < rank; i++ {
		strides[i] = t.Stride(i)
	}
	return strides
}

// IsContiguous returns true if the tensor has contiguous (row-major) memory layout.
func (t *Tensor) IsContiguous() bool {
	return bool(C.coreml_tensor_is_contiguous(t.handle))
}

// Shape returns the shape as a slice.
func (t *Tensor) Shape() []int64 {
	rank := t.Rank()
	shape := make([]int64, rank)
	for i := 0; i < rank; i++ {
		shape[i] = t.Dim(i)
	}
	return shape
}

// DType returns the data type.
func (t *Tensor) DType() DType {
	return DType(C.coreml_tensor_dtype(t.handle))
}

// DataPtr returns an unsafe pointer to the underlying data.
func (t *Tensor) DataPtr() unsafe.Pointer {
	return C.coreml_tensor_data(t.handle)
}

// SizeBytes returns the total size in bytes.
func (t *Tensor) SizeBytes() int64 {
	return int64(C.coreml_tensor_size_bytes(t.handle))
}

// Predict runs inference with the given inputs and outputs.
func (m *Model) Predict(inputNames []string, inputs []*Tensor, outputNames []string, outputs []*Tensor) error {
	if len(inputNames) != len(inputs) {
		return fmt.Errorf("input names count (%d) != inputs count (%d)", len(inputNames), len(inputs))
	}
	if len(outputNames) != len(outputs) {
		return fmt.Errorf("output names count (%d) != outputs count (%d)", len(outputNames), len(outputs))
	}

	// Convert input names
	cInputNames := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cInputNames[i] = C.CString(name)
	}
	defer func() {
		for _, name := range cInputNames {
			C.free(unsafe.Pointer(name))
		}
	}()

	// Convert output names
	cOutputNames := make([]*C.char, len(outputNames))
	for i, name := range outputNames {
		cOutputNames[i] = C.CString(name)
	}
	defer func() {
		for _, name := range cOutputNames {
			C.free(unsafe.Pointer(name))
		}
	}()

	// Convert tensors
	cInputs := make([]C.CoreMLTensor, len(inputs))
	for i, t := range inputs {
		cInputs[i] = t.handle
	}

	cOutputs := make([]C.CoreMLTensor, len(outputs))
	for i, t := range outputs {
		cOutputs[i] = t.handle
	}

	// Handle empty inputs/outputs by using nil pointers
	var cInputNamesPtr **C.char
	var cInputsPtr *C.CoreMLTensor
	if len(inputs) > 0 {
		cInputNamesPtr = (**C.char)(unsafe.Pointer(&cInputNames[0]))
		cInputsPtr = (*C.CoreMLTensor)(unsafe.Pointer(&cInputs[0]))
	}

	var cOutputNamesPtr **C.char
	var cOutputsPtr *C.CoreMLTensor
	if len(outputs) > 0 {
		cOutputNamesPtr = (**C.char)(unsafe.Pointer(&cOutputNames[0]))
		cOutputsPtr = (*C.CoreMLTensor)(unsafe.Pointer(&cOutputs[0]))
	}

	var err C.CoreMLError
	ok := C.coreml_model_predict(
		m.handle,
		cInputNamesPtr,
		cInputsPtr,
		C.int(len(inputs)),
		cOutputNamesPtr,
		cOutputsPtr,
		C.int(len(outputs)),
		&err,
	)

	if !ok {
		msg := "unknown error"
		if err.message != nil {
			msg = C.GoString(err.message)
			C.free(unsafe.Pointer(err.message))
		}
		return fmt.Errorf("prediction failed: %s", msg)
	}

	return nil
}

// PredictAllocResult holds the outputs from PredictAlloc.
type PredictAllocResult struct {
	Names   []string
	Tensors []*Tensor
}

// Close releases all output tensors.
func (r *PredictAllocResult) Close() {
	for _, t := range r.Tensors {
		t.Close()
	}
}

// Tensor returns the tensor with the given name, or nil if not found.
func (r *PredictAllocResult) Tensor(name string) *Tensor {
	for i, n := range r.Names {
		if n == name {
			return r.Tensors[i]
		}
	}
	return nil
}

// PredictAlloc runs inference and returns bridge-allocated output tensors.
// The caller must close the returned result to free resources.
// Output tensors have the actual shapes from the model's prediction.
func (m *Model) PredictAlloc(inputNames []string, inputs []*Tensor) (*PredictAllocResult, error) {
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("input names count (%d) != inputs count (%d)", len(inputNames), len(inputs))
	}

	// Convert input names
	cInputNames := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cInputNames[i] = C.CString(name)
	}
	defer func() {
		for _, name := range cInputNames {
			C.free(unsafe.Pointer(name))
		}
	}()

	// Convert input tensors
	cInputs := make([]C.CoreMLTensor, len(inputs))
	for i, t := range inputs {
		cInputs[i] = t.handle
	}

	var cInputNamesPtr **C.char
	var cInputsPtr *C.CoreMLTensor
	if len(inputs) > 0 {
		cInputNamesPtr = (**C.char)(unsafe.Pointer(&cInputNames[0]))
		cInputsPtr = (*C.CoreMLTensor)(unsafe.Pointer(&cInputs[0]))
	}

	var cOutputNames **C.char
	var cOutputs *C.CoreMLTensor
	var numOutputs C.int
	var err C.CoreMLError

	ok := C.coreml_model_predict_alloc(
		m.handle,
		cInputNamesPtr,
		cInputsPtr,
		C.int(len(inputs)),
		&cOutputNames,
		&cOutputs,
		&numOutputs,
		&err,
	)

	if !ok {
		msg := "unknown error"
		if err.message != nil {
			msg = C.GoString(err.message)
			C.free(unsafe.Pointer(err.message))
		}
		return nil, fmt.Errorf("prediction failed: %s", msg)
	}

	n := int(numOutputs)
	result := &PredictAllocResult{
		Names:   make([]string, n),
		Tensors: make([]*Tensor, n),
	}

	// Convert C arrays to Go
	cNamesSlice := unsafe.Slice((**C.char)(unsafe.Pointer(cOutputNames)), n)
	cTensorsSlice := unsafe.Slice((*C.CoreMLTensor)(unsafe.Pointer(cOutputs)), n)
	for i := 0; i < n; i++ {
		result.Names[i] = C.GoString(cNamesSlice[i])
		C.free(unsafe.Pointer(cNamesSlice[i]))
		result.Tensors[i] = &Tensor{handle: cTensorsSlice[i]}
	}

	// Free the C arrays themselves (not the contents, which are now owned by Go)
	C.free(unsafe.Pointer(cOutputNames))
	C.free(unsafe.Pointer(cOutputs))

	return result, nil
}
