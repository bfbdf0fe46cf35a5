// Package controller implements the client side of the status-polling
// interaction: it starts an orchestration, keeps the status-query URL the
// platform hands back, and checks status on demand.
//
// State is an immutable State value. Every network outcome is turned into an
// Event and folded into the next State by Reduce, so a Controller never
// mutates fields ad hoc.
//
// Status is always queried at the stored statusQueryGetUri (after the
// optional origin rewrite). Remapping to a local /api/status path is not
// supported.
package controller
