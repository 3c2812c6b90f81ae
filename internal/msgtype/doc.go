// Package msgtype defines the message type system shared by graph
// endpoints, converters and transports.
//
// Message types are cty types written as HCL type expressions (`number`,
// `list(number)`, `object({x=number, y=number})`). Converters map a value
// between two types and can be asked for the "opposite" of a type, which is
// how the graph derives wire types from declared endpoint types.
package msgtype
