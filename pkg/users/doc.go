// Package users is the account directory: persistence of the users table plus
// the operations around it (registration, credential checks, activation and
// password replacement).
//
// Directory implements auth.IdentityLoader so the session manager always sees
// the current role and active flag. Use WithTx to run directory calls inside a
// transaction owned by another package, as invitation acceptance does.
package users
