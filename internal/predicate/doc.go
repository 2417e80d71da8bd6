// Package predicate provides the structured row filters accepted by the
// event store.
//
// Callers never pass SQL text. A filter is a tree of sealed Predicate
// nodes that the sqlgen package compiles into a WHERE clause with bound
// parameters, checking every field name against the collection's columns.
//
// Predicate types:
//   - Compare: field <op> value, for =, !=, <, <=, >, >=
//   - IsNull: field IS NULL / IS NOT NULL
//   - In: field IN (values...)
//   - And: all predicates must hold
//
// OR is deliberately absent: every filter the store composes (item key
// filter plus caller filter) is a conjunction, and keeping the language
// conjunctive makes that composition impossible to get wrong.
//
// Ordering is expressed with Order values; the zero Order list means
// "use the collection default".
package predicate
