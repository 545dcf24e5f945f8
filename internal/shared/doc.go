// Package shared provides the error taxonomy shared by the backup engine and
// its adapters.
//
// Domain code returns sentinel-backed errors; adapters translate them with
// KindOf:
//
//	switch shared.KindOf(err) {
//	case shared.KindConfiguration:
//	    return http.StatusBadRequest
//	case shared.KindCadenceNotEnabled:
//	    return http.StatusConflict
//	default:
//	    return http.StatusInternalServerError
//	}
//
// Third-party errors are classified with MarkKind, which keeps the original
// error reachable through errors.Is and errors.As.
//
// Messages are lowercase and without trailing punctuation so they compose
// when wrapped.
package shared
