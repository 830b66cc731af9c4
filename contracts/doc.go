// Package contracts defines what travels back on a reply queue and how a
// request can end.
//
//   - Reply: the JSON envelope of a data, success or error event
//   - Payload: the raw JSON handed to data callbacks
//   - Error: the terminal error of a request, with the reserved codes the
//     client uses for its own failures
//
// Responders can use EncodeReply, DataReply, ErrorReply and SuccessReply
// to produce bodies this client understands.
package contracts
