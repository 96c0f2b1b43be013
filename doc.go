/*
Package coltab implements a columnar, append-mostly storage engine for large
typed tabular datasets (originally genomic variant records) on top of a
key-value store (in this case, on top of Bolt).

We implement:

1. Tables, ordered collections of rows addressed by a monotonically increasing
row id, with typed columns including fixed- and variable-length vectors,
half-precision floats, enumerations, and a universal missing value.

2. Indices, sorted mappings from an order-preserving binary key to row ids,
allowing lookups, min/max and range scans without touching row data.

3. A bounded LRU cache over resolved index lookups.

# Technical Details

**Buckets.**
We rely on scoped namespaces for keys called buckets. Bolt supports them
natively. A table occupies one database file with a “rows” bucket (row id →
row buffer), a “meta” bucket (schema and index descriptors, msgpack), and one
“i_<name>” bucket per index.

**Row buffer**: a fixed-size header with one slot per column in schema order,
followed by a variable region. Fixed-arity columns store their elements
inline; variable-arity columns store an offset+length pair of address_size
bytes each. address_size is fixed at table creation and bounds the largest
representable row; changing it requires rebuilding the table.

**Index keys**: per-column order-preserving transforms (sign-bit flips,
+1-shifted unsigned values, bit-inverted negative floats) composed in column
order, then an 8-byte big-endian row id suffix that total-orders duplicates by
insertion order. Unsigned byte-wise comparison of keys matches the natural
ordering of the underlying values, with missing values sorting first. The
transforms are bijections: decoding a key recovers the exact column values
without reading the row.

**Concurrency**: single writer, multiple readers, serialized by the caller.
Every operation runs in its own storage transaction; cursors hold a read
transaction until closed. The lookup cache is the only shared mutable
in-process structure and is mutex-guarded.
*/
package coltab
