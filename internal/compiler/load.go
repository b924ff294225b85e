package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/contractworker/internal/contract"
)

// LoadMode controls how errors are handled during loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes shared with the CLI.
const (
	ErrCodeGeneric     = "E001"
	ErrCodeScanError   = "E002"
	ErrCodeNoFiles     = "E003"
	ErrCodeLoadFailed  = "E004"
	ErrCodeNotFound    = "E005"
	ErrCodeBuildFailed = "E006"

	ErrCodeInvalidType         = "E101"
	ErrCodeInvalidRelationship = "E102"
	ErrCodeInvalidTrigger      = "E110"
	ErrCodeInvalidScheduled    = "E120"
)

// LoadError is a loading failure with its CUE position, if known.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Result holds the contracts compiled from a directory.
type Result struct {
	Relationships []contract.Contract
	Types         []contract.Contract
	Triggers      []contract.Contract
	Scheduled     []contract.Contract
	FileCount     int
}

// Contracts returns every compiled contract in install order: verbs
// before the types whose formulas use them, types before the contracts
// of those types.
func (r *Result) Contracts() []contract.Contract {
	out := make([]contract.Contract, 0, len(r.Relationships)+len(r.Types)+len(r.Triggers)+len(r.Scheduled))
	out = append(out, r.Relationships...)
	out = append(out, r.Types...)
	out = append(out, r.Triggers...)
	return append(out, r.Scheduled...)
}

type section struct {
	path    string
	code    string
	compile func(string, cue.Value) (contract.Contract, error)
	add     func(*Result, contract.Contract)
}

var sections = []section{
	{"relationships", ErrCodeInvalidRelationship, CompileRelationship, func(r *Result, c contract.Contract) { r.Relationships = append(r.Relationships, c) }},
	{"types", ErrCodeInvalidType, CompileType, func(r *Result, c contract.Contract) { r.Types = append(r.Types, c) }},
	{"triggers", ErrCodeInvalidTrigger, CompileTrigger, func(r *Result, c contract.Contract) { r.Triggers = append(r.Triggers, c) }},
	{"scheduled", ErrCodeInvalidScheduled, CompileScheduled, func(r *Result, c contract.Contract) { r.Scheduled = append(r.Scheduled, c) }},
}

// Load compiles the CUE package in dir.
// If mode is LoadModeFailFast, returns on first error.
func Load(dir string, mode LoadMode) (*Result, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	files, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	if inst := instances[0]; inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}
	value := cuecontext.New().BuildInstance(instances[0])
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}

	result, errs := compileValue(value, mode)
	result.FileCount = len(files)
	return result, errs
}

// CompileString compiles definitions held in a single CUE source.
func CompileString(src string) (*Result, []error) {
	value := cuecontext.New().CompileString(src)
	if err := value.Err(); err != nil {
		return nil, []error{&LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}}
	}
	return compileValue(value, LoadModeCollectAll)
}

func compileValue(value cue.Value, mode LoadMode) (*Result, []error) {
	result := &Result{}
	var errs []error
	found := false

	for _, sec := range sections {
		v := value.LookupPath(cue.ParsePath(sec.path))
		if !v.Exists() {
			continue
		}
		found = true
		iter, err := v.Fields()
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating %s: %v", sec.path, err)})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		for iter.Next() {
			c, err := sec.compile(iter.Selector().Unquoted(), iter.Value())
			if err != nil {
				errs = append(errs, convertCompileError(err, sec.code))
				if mode == LoadModeFailFast {
					return result, errs
				}
				continue
			}
			sec.add(result, c)
		}
	}

	if !found && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeGeneric, Message: "no relationships, types, triggers or scheduled actions found"})
	}
	return result, errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func convertCompileError(err error, code string) *LoadError {
	if ce, ok := err.(*CompileError); ok {
		return &LoadError{Code: code, Message: ce.Field + ": " + ce.Message, Pos: ce.Pos}
	}
	return &LoadError{Code: code, Message: err.Error()}
}
