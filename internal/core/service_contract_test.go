package core

import (
	"fmt"
	"go/ast"
	"go/types"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"golang.org/x/tools/go/packages"
)

func TestServiceStructContract(t *testing.T) {
	pkg := loadCorePackage(t)

	obj := pkg.Types.Scope().Lookup("Service")
	if obj == nil {
		t.Fatalf("Service type not found in package")
	}
	named, ok := obj.Type().(*types.Named)
	if !ok {
		t.Fatalf("Service is not a named type")
	}
	structType, ok := named.Underlying().(*types.Struct)
	if !ok {
		t.Fatalf("Service is not a struct")
	}

	qualifier := func(p *types.Package) string {
		if p == nil {
			return ""
		}
		return p.Path()
	}

	fields := make(map[string]string, structType.NumFields())
	for i := 0; i < structType.NumFields(); i++ {
		field := structType.Field(i)
		fields[field.Name()] = types.TypeString(field.Type(), qualifier)
	}

	required := map[string]string{
		"store":   "hujra/pkg/domain.PersistentStore",
		"cache":   "*hujra/internal/session.Cache",
		"logger":  "*go.uber.org/zap.Logger",
		"metrics": "hujra/internal/core.MetricsRecorder",
		"now":     "func() time.Time",
	}

	var missing []string
	var mismatched []string
	for name, want := range required {
		got, ok := fields[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if got != want {
			mismatched = append(mismatched, fmt.Sprintf("%s: want %s, got %s", name, want, got))
		}
	}

	if len(missing) > 0 || len(mismatched) > 0 {
		_, file, line, _ := runtime.Caller(0)
		var details []string
		if len(missing) > 0 {
			details = append(details, "missing fields: "+strings.Join(missing, ", "))
		}
		if len(mismatched) > 0 {
			details = append(details, "type mismatches: "+strings.Join(mismatched, "; "))
		}
		t.Fatalf("service struct contract violated (%s:%d): %s", filepath.Base(file), line, strings.Join(details, "; "))
	}
}

// Every exported method taking a context is a tracked operation and must go
// through observe (directly or via mutate) so it is timed and logged.
func TestServiceContextMethodsAreObserved(t *testing.T) {
	pkg := loadCorePackage(t)
	serviceFile := findFile(t, pkg, "service.go")

	var violations []string
	for _, decl := range serviceFile.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv == nil || fn.Body == nil {
			continue
		}
		recvName, isService := serviceReceiverName(fn)
		if !isService || !ast.IsExported(fn.Name.Name) || !takesContext(fn) {
			continue
		}
		if callsReceiverMethod(fn.Body, recvName, "observe", "mutate") {
			continue
		}
		pos := pkg.Fset.Position(fn.Pos())
		violations = append(violations, fmt.Sprintf("%s:%d %s", filepath.Base(pos.Filename), pos.Line, fn.Name.Name))
	}
	if len(violations) > 0 {
		t.Fatalf("service operations must delegate to observe:\n%s", strings.Join(violations, "\n"))
	}
}

var (
	corePkgOnce sync.Once
	corePkg     *packages.Package
	corePkgErr  error
)

func loadCorePackage(t *testing.T) *packages.Package {
	t.Helper()

	corePkgOnce.Do(func() {
		cfg := &packages.Config{
			Mode:  packages.NeedName | packages.NeedTypes | packages.NeedSyntax | packages.NeedCompiledGoFiles | packages.NeedFiles,
			Tests: true,
		}
		pkgs, err := packages.Load(cfg, "hujra/internal/core")
		if err != nil {
			corePkgErr = fmt.Errorf("load core package: %w", err)
			return
		}
		if len(pkgs) == 0 {
			corePkgErr = fmt.Errorf("no packages returned when loading core")
			return
		}
		for _, pkg := range pkgs {
			if len(pkg.Errors) > 0 {
				corePkgErr = fmt.Errorf("package load errors: %v", pkg.Errors)
				return
			}
			if pkg.PkgPath == "hujra/internal/core" {
				corePkg = pkg
				return
			}
		}
		corePkgErr = fmt.Errorf("core package not found in load results")
	})

	if corePkgErr != nil {
		t.Skipf("core package unavailable: %v", corePkgErr)
	}
	return corePkg
}

func findFile(t *testing.T, pkg *packages.Package, name string) *ast.File {
	t.Helper()
	for i, file := range pkg.Syntax {
		if filepath.Base(pkg.CompiledGoFiles[i]) == name {
			return file
		}
	}
	t.Fatalf("file %s not found in package %s", name, pkg.PkgPath)
	return nil
}

func serviceReceiverName(fn *ast.FuncDecl) (string, bool) {
	if len(fn.Recv.List) != 1 {
		return "", false
	}
	field := fn.Recv.List[0]
	star, ok := field.Type.(*ast.StarExpr)
	if !ok {
		return "", false
	}
	ident, ok := star.X.(*ast.Ident)
	if !ok || ident.Name != "Service" || len(field.Names) == 0 {
		return "", false
	}
	return field.Names[0].Name, true
}

func takesContext(fn *ast.FuncDecl) bool {
	params := fn.Type.Params
	if params == nil || len(params.List) == 0 {
		return false
	}
	sel, ok := params.List[0].Type.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	pkg, ok := sel.X.(*ast.Ident)
	return ok && pkg.Name == "context" && sel.Sel.Name == "Context"
}

func callsReceiverMethod(body *ast.BlockStmt, recv string, names ...string) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return !found
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok {
			return !found
		}
		ident, ok := sel.X.(*ast.Ident)
		if !ok || ident.Name != recv {
			return !found
		}
		for _, name := range names {
			if sel.Sel.Name == name {
				found = true
			}
		}
		return !found
	})
	return found
}
