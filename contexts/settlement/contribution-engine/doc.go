// Package contributionengine settles user contributions to publishers by
// spending unblinded tokens.
//
// Layering:
// - domain: tokens, contributions, steps, vote allocation and amount rounding
// - application: the settlement engine, redemption dispatch, outcome policy and workers
// - ports: persistence, processor, clock and event boundaries
// - adapters: concrete HTTP, memory, postgres and processor implementations
// - transport: module-private DTOs for HTTP contracts
//
// Boundary notes:
// - The engine owns the start, reserve and prepare steps only. Every other
//   step is written by the outcome policy or by adjacent subsystems.
// - Domain code imports nothing outside the standard library and decimal.
package contributionengine
